// Package main defines the CLI structure using kong.
package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Config string `help:"Config file path (default: ./docplan.toml)"`

	Run       RunCmd       `cmd:"" help:"Execute a plan"`
	Resume    ResumeCmd    `cmd:"" help:"Continue a plan paused for user input"`
	Retry     RetryCmd     `cmd:"" help:"Rerun a failed plan from its failing step"`
	Validate  ValidateCmd  `cmd:"" help:"Validate a plan file"`
	Inspect   InspectCmd   `cmd:"" help:"Show plan structure and resolved iteration limits"`
	Snapshots SnapshotsCmd `cmd:"" help:"List saved resume snapshots and failures"`
	Replay    ReplayCmd    `cmd:"" help:"Replay a plan journal for forensic analysis"`
	Version   VersionCmd   `cmd:"" help:"Show version information"`
}

// RunCmd executes a plan file.
type RunCmd struct {
	Plan        string `arg:"" help:"Plan YAML file"`
	Request     string `short:"r" help:"Original user request, kept for the journal"`
	Project     string `help:"Project name (default: base directory name)"`
	BaseDir     string `help:"Project base directory (default: current directory)"`
	Branch      string `help:"Project branch"`
	Output      string `short:"o" help:"Write the result as JSON to this file"`
	Interactive bool   `help:"Answer specialist questions in the terminal instead of saving a snapshot" negatable:"" default:"true"`
	Debug       bool   `help:"Record full prompts and replies in the journal"`
}

// ResumeCmd continues from a saved snapshot.
type ResumeCmd struct {
	Snapshot string `arg:"" help:"Snapshot id"`
	Reply    string `help:"Answer to the pending question (prompted when empty)"`
	Plan     string `help:"Plan file to check the snapshot against (default: the plan stored in the snapshot)"`
	Output   string `short:"o" help:"Write the result as JSON to this file"`
	Debug    bool   `help:"Record full prompts and replies in the journal"`
}

// RetryCmd reruns a failed plan.
type RetryCmd struct {
	Failure string `arg:"" help:"Failure id"`
	Output  string `short:"o" help:"Write the result as JSON to this file"`
	Debug   bool   `help:"Record full prompts and replies in the journal"`
}

// ValidateCmd validates a plan file.
type ValidateCmd struct {
	Plan string `arg:"" help:"Plan YAML file"`
}

// InspectCmd shows plan structure.
type InspectCmd struct {
	Plan string `arg:"" help:"Plan YAML file"`
}

// SnapshotsCmd lists saved snapshots.
type SnapshotsCmd struct {
	Delete string `help:"Delete the snapshot with this id"`
}

// ReplayCmd replays a journal for analysis.
type ReplayCmd struct {
	Journal string `arg:"" help:"Journal file (.jsonl) or journal id"`
	Verbose int    `short:"v" type:"counter" help:"Verbosity level (-v, -vv)"`
	NoPager bool   `help:"Disable pager for output"`
	Live    bool   `help:"Follow the journal while a plan is running"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
