package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"quartet/internal/model"
	"quartet/internal/notify"
	"quartet/internal/pipeline"
	"quartet/internal/prompt"
	"quartet/internal/setup"
	"quartet/internal/status"
	"quartet/internal/store"
	"quartet/internal/watch"
	"quartet/internal/worker"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "setup":
		runSetup(os.Args[2:])
	case "start":
		runStart(os.Args[2:])
	case "approve":
		runApprove(os.Args[2:])
	case "reject":
		runReject(os.Args[2:])
	case "reset":
		runReset(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "output":
		runOutput(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "agent":
		runAgent(os.Args[2:])
	case "notify":
		runNotify(os.Args[2:])
	case "version":
		fmt.Printf("quartet %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runSetup(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: quartet setup <project_dir> [--name <name>]")
		os.Exit(1)
	}

	projectDir := args[0]
	var name string
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--name":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--name requires a value")
				os.Exit(1)
			}
			i++
			name = rest[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: quartet setup <project_dir> [--name <name>]\n", rest[i])
			os.Exit(1)
		}
	}

	if err := setup.Run(projectDir, name); err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}
	absDir, _ := filepath.Abs(projectDir)
	fmt.Printf("Initialized .quartet/ in %s\n", absDir)
}

func runStart(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: quartet start <task description>")
		os.Exit(1)
	}
	task := strings.Join(args, " ")

	c := newController()
	defer c.Close()

	if err := c.Start(task); err != nil {
		fmt.Fprintf(os.Stderr, "start: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Pipeline started, phase: %s\n", c.CurrentPhase())
}

func runApprove(args []string) {
	if len(args) > 0 {
		fmt.Fprintln(os.Stderr, "usage: quartet approve")
		os.Exit(1)
	}

	c := newController()
	defer c.Close()

	if err := c.Approve(); err != nil {
		fmt.Fprintf(os.Stderr, "approve: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Approved, phase: %s\n", c.CurrentPhase())
}

func runReject(args []string) {
	feedback := strings.Join(args, " ")

	c := newController()
	defer c.Close()

	if err := c.Reject(feedback); err != nil {
		fmt.Fprintf(os.Stderr, "reject: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Rejected, phase: %s\n", c.CurrentPhase())
}

func runReset(args []string) {
	if len(args) > 0 {
		fmt.Fprintln(os.Stderr, "usage: quartet reset")
		os.Exit(1)
	}

	c := newController()
	defer c.Close()

	if err := c.Reset(); err != nil {
		fmt.Fprintf(os.Stderr, "reset: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Pipeline reset")
}

func runStatus(args []string) {
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: quartet status [--json]\n", a)
			os.Exit(1)
		}
	}

	if err := status.Run(mustQuartetDir(), jsonOutput); err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
}

func runOutput(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: quartet output <save|read> [options]")
		os.Exit(1)
	}
	switch args[0] {
	case "save":
		runOutputSave(args[1:])
	case "read":
		runOutputRead(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown output subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "usage: quartet output <save|read> [options]")
		os.Exit(1)
	}
}

func runOutputSave(args []string) {
	var file string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--file":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--file requires a value")
				os.Exit(1)
			}
			i++
			file = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: quartet output save [--file <path>]\n", args[i])
			os.Exit(1)
		}
	}

	content := readContent(file)

	c := newController()
	defer c.Close()

	if err := c.SaveOutput(content); err != nil {
		fmt.Fprintf(os.Stderr, "output save: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Output saved, phase: %s\n", c.CurrentPhase())
}

func runOutputRead(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: quartet output read <agent>")
		os.Exit(1)
	}

	s := worker.New(store.New(mustQuartetDir()))
	content, ok, err := s.ReadOutput(model.AgentID(args[0]))
	if err != nil {
		fmt.Fprintf(os.Stderr, "output read: %v\n", err)
		os.Exit(1)
	}
	if !ok {
		fmt.Fprintf(os.Stderr, "no output recorded for %s\n", args[0])
		os.Exit(1)
	}
	fmt.Print(content)
}

func runWatch(args []string) {
	if len(args) > 0 {
		fmt.Fprintln(os.Stderr, "usage: quartet watch")
		os.Exit(1)
	}

	quartetDir := mustQuartetDir()
	cfg, err := loadConfig(quartetDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	c := pipeline.New(store.New(quartetDir))
	defer c.Close()

	d, err := watch.New(quartetDir, cfg, c)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create watch daemon: %v\n", err)
		os.Exit(1)
	}
	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		os.Exit(1)
	}
}

func runAgent(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: quartet agent <task|output|brief|context> [options]")
		os.Exit(1)
	}
	switch args[0] {
	case "task":
		runAgentTask(args[1:])
	case "output":
		runAgentOutput(args[1:])
	case "brief":
		runAgentBrief(args[1:])
	case "context":
		runAgentContext(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown agent subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "usage: quartet agent <task|output|brief|context> [options]")
		os.Exit(1)
	}
}

func runAgentTask(args []string) {
	if len(args) > 0 {
		fmt.Fprintln(os.Stderr, "usage: quartet agent task")
		os.Exit(1)
	}

	view := worker.New(store.New(mustQuartetDir())).ReadTask()
	out, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent task: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func runAgentOutput(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: quartet agent output <read|read-all|write> [options]")
		os.Exit(1)
	}

	s := worker.New(store.New(mustQuartetDir()))

	switch args[0] {
	case "read":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: quartet agent output read <agent>")
			os.Exit(1)
		}
		content, ok, err := s.ReadOutput(model.AgentID(args[1]))
		if err != nil {
			fmt.Fprintf(os.Stderr, "agent output read: %v\n", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "no output recorded for %s\n", args[1])
			os.Exit(1)
		}
		fmt.Print(content)
	case "read-all":
		outputs, err := s.ReadAllOutputs()
		if err != nil {
			fmt.Fprintf(os.Stderr, "agent output read-all: %v\n", err)
			os.Exit(1)
		}
		for _, agent := range model.Agents {
			content, ok := outputs[agent.ID]
			if !ok {
				continue
			}
			fmt.Printf("## %s\n\n%s\n\n", agent.ID, strings.TrimSpace(content))
		}
	case "write":
		runAgentOutputWrite(s, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown agent output subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "usage: quartet agent output <read|read-all|write> [options]")
		os.Exit(1)
	}
}

func runAgentOutputWrite(s *worker.Surface, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: quartet agent output write <agent> [--file <path>]")
		os.Exit(1)
	}

	agent := model.AgentID(args[0])
	var file string
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--file":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--file requires a value")
				os.Exit(1)
			}
			i++
			file = rest[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: quartet agent output write <agent> [--file <path>]\n", rest[i])
			os.Exit(1)
		}
	}

	content := readContent(file)

	phase, err := s.WriteOutput(agent, content)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent output write: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Output written, phase: %s\n", phase)
}

// runAgentBrief prints the assembled working brief for the active agent.
func runAgentBrief(args []string) {
	if len(args) > 0 {
		fmt.Fprintln(os.Stderr, "usage: quartet agent brief")
		os.Exit(1)
	}

	quartetDir := mustQuartetDir()
	cfg, err := loadConfig(quartetDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	st := store.New(quartetDir)
	state := st.Load()
	agent, ok := model.AgentForPhase(state.CurrentPhase)
	if !ok {
		fmt.Fprintf(os.Stderr, "no agent is active in phase %s\n", state.CurrentPhase)
		os.Exit(1)
	}

	instructions, err := prompt.LoadInstructions(filepath.Join(quartetDir, "instructions"), agent.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent brief: %v\n", err)
		os.Exit(1)
	}
	outputs, err := st.ReadAllOutputs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent brief: %v\n", err)
		os.Exit(1)
	}

	fmt.Print(prompt.Build(prompt.Input{
		Agent:        agent,
		ModelLabel:   cfg.Agents.ModelFor(agent),
		Instructions: instructions,
		Task:         state.TaskDescription,
		Feedback:     prompt.LatestFeedback(state, agent),
		Outputs:      outputs,
		Context:      prompt.ProjectContext(projectRoot(quartetDir, cfg)),
	}))
}

func runAgentContext(args []string) {
	if len(args) > 0 {
		fmt.Fprintln(os.Stderr, "usage: quartet agent context")
		os.Exit(1)
	}

	quartetDir := mustQuartetDir()
	cfg, err := loadConfig(quartetDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	ctx := prompt.ProjectContext(projectRoot(quartetDir, cfg))
	if ctx == "" {
		fmt.Println("No recognized project manifests")
		return
	}
	fmt.Println(ctx)
}

func runNotify(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: quartet notify <title> <message>")
		os.Exit(1)
	}
	if err := notify.Send(args[0], args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "notify: %v\n", err)
		os.Exit(1)
	}
}

func newController() *pipeline.Controller {
	return pipeline.New(store.New(mustQuartetDir()))
}

// readContent reads an output body from a file, or stdin when no file is given.
func readContent(file string) string {
	var data []byte
	var err error
	if file == "" || file == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "read output content: %v\n", err)
		os.Exit(1)
	}
	if len(data) == 0 {
		fmt.Fprintln(os.Stderr, "output content is empty")
		os.Exit(1)
	}
	return string(data)
}

func mustQuartetDir() string {
	dir := findQuartetDir()
	if dir == "" {
		fmt.Fprintln(os.Stderr, "error: .quartet/ directory not found. Run 'quartet setup <dir>' first.")
		os.Exit(1)
	}
	return dir
}

// findQuartetDir searches for .quartet/ in the current directory and ancestors.
func findQuartetDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".quartet")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func loadConfig(quartetDir string) (model.Config, error) {
	data, err := os.ReadFile(filepath.Join(quartetDir, "config.yaml"))
	if err != nil {
		return model.Config{}, fmt.Errorf("read config.yaml: %w", err)
	}
	var cfg model.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parse config.yaml: %w", err)
	}
	return cfg, nil
}

func projectRoot(quartetDir string, cfg model.Config) string {
	if cfg.Quartet.ProjectRoot != "" {
		return cfg.Quartet.ProjectRoot
	}
	return filepath.Dir(quartetDir)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `quartet %s — Human-gated four-stage pipeline coordinator

Usage: quartet <command> [options]

Pipeline:
  setup <dir> [--name <n>]  Initialize .quartet/ directory
  start <task>              Begin a new pipeline run
  approve                   Accept the output under review
  reject [feedback]         Send the work back with feedback
  reset                     Clear all pipeline state
  status [--json]           Show pipeline and daemon status
  output save [--file <f>]  Record the active agent's output (stdin default)
  output read <agent>       Print a recorded output

Daemon:
  watch                     Run the synchronization watch daemon

Worker surface:
  agent task                Print the current task as JSON
  agent output read <a>     Print one agent's output
  agent output read-all     Print every recorded output
  agent output write <a>    Record an output for an agent (stdin default)
  agent brief               Print the active agent's assembled brief
  agent context             Print the detected project tech stack

Utilities:
  notify <title> <msg>      macOS notification
  version                   Show version
  help                      Show this help

`, version)
}
