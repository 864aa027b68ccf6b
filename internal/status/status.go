// Package status reports the pipeline and watch daemon state.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"quartet/internal/lock"
	"quartet/internal/model"
	"quartet/internal/store"
	"quartet/internal/watch"
)

const historyTail = 5

type PipelineStatus struct {
	Phase         model.Phase    `json:"phase"`
	Task          string         `json:"task,omitempty"`
	AwaitingHuman bool           `json:"awaiting_human"`
	ActiveAgent   model.AgentID  `json:"active_agent,omitempty"`
	Daemon        DaemonStatus   `json:"daemon"`
	Outputs       []OutputStatus `json:"outputs"`
	History       []HistoryLine  `json:"history,omitempty"`
	UpdatedAt     string         `json:"updated_at"`
}

type DaemonStatus struct {
	Running bool `json:"running"`
	Pid     int  `json:"pid,omitempty"`
}

type OutputStatus struct {
	Agent   model.AgentID `json:"agent"`
	Present bool          `json:"present"`
}

type HistoryLine struct {
	Timestamp string              `json:"timestamp"`
	Phase     model.Phase         `json:"phase"`
	Action    model.HistoryAction `json:"action"`
	Detail    string              `json:"detail,omitempty"`
}

// Collect gathers the status snapshot without printing it.
func Collect(quartetDir string) PipelineStatus {
	state := store.New(quartetDir).Load()

	s := PipelineStatus{
		Phase:         state.CurrentPhase,
		Task:          state.TaskDescription,
		AwaitingHuman: model.IsReviewPhase(state.CurrentPhase),
		Daemon:        checkDaemon(quartetDir),
		UpdatedAt:     state.UpdatedAt,
	}
	if agent, ok := model.AgentForPhase(state.CurrentPhase); ok {
		s.ActiveAgent = agent.ID
	}

	for _, agent := range model.Agents {
		_, present := state.Outputs[agent.ID]
		s.Outputs = append(s.Outputs, OutputStatus{Agent: agent.ID, Present: present})
	}

	tail := state.History
	if len(tail) > historyTail {
		tail = tail[len(tail)-historyTail:]
	}
	for _, e := range tail {
		s.History = append(s.History, HistoryLine{
			Timestamp: e.Timestamp,
			Phase:     e.Phase,
			Action:    e.Action,
			Detail:    e.Detail,
		})
	}

	return s
}

// Run collects the status and prints it.
func Run(quartetDir string, jsonOutput bool) error {
	s := Collect(quartetDir)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	printStatus(s)
	return nil
}

// checkDaemon probes the watch daemon's lock file PID.
func checkDaemon(quartetDir string) DaemonStatus {
	pid := lock.ReadPID(filepath.Join(quartetDir, watch.LockFileName))
	if !lock.ProcessAlive(pid) {
		return DaemonStatus{Running: false}
	}
	return DaemonStatus{Running: true, Pid: pid}
}

func printStatus(s PipelineStatus) {
	fmt.Printf("Phase: %s\n", s.Phase)
	if s.Task != "" {
		fmt.Printf("Task:  %s\n", s.Task)
	}
	if s.AwaitingHuman {
		fmt.Println("Awaiting human review (approve or reject)")
	} else if s.ActiveAgent != "" {
		fmt.Printf("Active agent: %s\n", s.ActiveAgent)
	}

	if s.Daemon.Running {
		fmt.Printf("\nWatch daemon: running (pid %d)\n", s.Daemon.Pid)
	} else {
		fmt.Println("\nWatch daemon: stopped")
	}

	fmt.Println("\nOutputs:")
	for _, o := range s.Outputs {
		mark := " "
		if o.Present {
			mark = "x"
		}
		fmt.Printf("  [%s] %s\n", mark, o.Agent)
	}

	if len(s.History) > 0 {
		fmt.Println("\nRecent history:")
		for _, h := range s.History {
			line := fmt.Sprintf("  %s  %-12s %s", h.Timestamp, h.Phase, h.Action)
			if h.Detail != "" {
				line += "  " + h.Detail
			}
			fmt.Println(line)
		}
	}
}
