// Package prompt assembles the working brief handed to an agent: its role
// instructions, the task, upstream outputs it depends on, and rejection
// feedback when the phase is a retry.
package prompt

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"quartet/internal/model"
	"quartet/templates"
)

// Input carries everything a brief is built from.
type Input struct {
	Agent        model.AgentDefinition
	ModelLabel   string
	Instructions string
	Task         string
	Feedback     string
	Outputs      map[model.AgentID]string
	Context      string
}

// Build renders the brief as markdown.
func Build(in Input) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Role: %s\n\n", in.Agent.ID)
	if in.ModelLabel != "" {
		fmt.Fprintf(&b, "Model: %s\n\n", in.ModelLabel)
	}

	if in.Instructions != "" {
		b.WriteString(strings.TrimSpace(in.Instructions))
		b.WriteString("\n\n")
	}

	b.WriteString("## Task\n\n")
	b.WriteString(strings.TrimSpace(in.Task))
	b.WriteString("\n")

	if in.Feedback != "" {
		b.WriteString("\n## Review feedback\n\n")
		b.WriteString("Your previous output was rejected. Address this feedback:\n\n")
		b.WriteString(strings.TrimSpace(in.Feedback))
		b.WriteString("\n")
	}

	for _, dep := range in.Agent.Requires {
		output, ok := in.Outputs[dep]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n## Output from %s\n\n", dep)
		b.WriteString(strings.TrimSpace(output))
		b.WriteString("\n")
	}

	if in.Context != "" {
		b.WriteString("\n## Project context\n\n")
		b.WriteString(strings.TrimSpace(in.Context))
		b.WriteString("\n")
	}

	return b.String()
}

// LoadInstructions reads the role instruction file for an agent from the
// control directory, falling back to the embedded default.
func LoadInstructions(instructionsDir string, agent model.AgentID) (string, error) {
	name := string(agent) + ".md"

	data, err := os.ReadFile(filepath.Join(instructionsDir, name))
	if err == nil {
		return string(data), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("read instructions for %s: %w", agent, err)
	}

	data, err = fs.ReadFile(templates.FS, "instructions/"+name)
	if err != nil {
		return "", fmt.Errorf("no instructions for %s: %w", agent, err)
	}
	return string(data), nil
}

// LatestFeedback returns the detail of the most recent rejection recorded at
// the agent's review gate, or "" if the agent has never been rejected.
func LatestFeedback(state *model.PipelineState, agent model.AgentDefinition) string {
	for i := len(state.History) - 1; i >= 0; i-- {
		entry := state.History[i]
		if entry.Action == model.ActionRejected && entry.Phase == agent.ReviewPhase {
			return entry.Detail
		}
	}
	return ""
}

// manifestHints maps well-known manifest files to the stack they indicate.
var manifestHints = map[string]string{
	"go.mod":           "Go module",
	"package.json":     "Node.js project",
	"Cargo.toml":       "Rust crate",
	"pyproject.toml":   "Python project",
	"requirements.txt": "Python project",
	"pom.xml":          "Java (Maven) project",
	"build.gradle":     "Java (Gradle) project",
	"Gemfile":          "Ruby project",
	"Dockerfile":       "Docker build",
	"Makefile":         "Make-driven build",
}

// ProjectContext sniffs the workspace root for well-known manifests and
// returns a short description of the tech stack, or "" if nothing is
// recognized.
func ProjectContext(root string) string {
	var found []string
	for name, hint := range manifestHints {
		if _, err := os.Stat(filepath.Join(root, name)); err == nil {
			found = append(found, fmt.Sprintf("%s (%s)", hint, name))
		}
	}
	if len(found) == 0 {
		return ""
	}
	sort.Strings(found)
	return "Detected: " + strings.Join(found, ", ")
}
