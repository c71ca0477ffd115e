package main

import (
	"testing"

	"github.com/alecthomas/kong"
)

func parse(t *testing.T, args ...string) (*CLI, string) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kongVars())
	if err != nil {
		t.Fatal(err)
	}
	ctx, err := parser.Parse(args)
	if err != nil {
		t.Fatal(err)
	}
	return &cli, ctx.Command()
}

func TestRunCmd_Defaults(t *testing.T) {
	cli, cmd := parse(t, "run", "plan.yaml")

	if cmd != "run <plan>" {
		t.Errorf("expected command 'run <plan>', got %q", cmd)
	}
	if cli.Run.Plan != "plan.yaml" {
		t.Errorf("expected plan 'plan.yaml', got %q", cli.Run.Plan)
	}
	if !cli.Run.Interactive {
		t.Error("expected interactive by default")
	}
	if cli.Run.Debug {
		t.Error("expected debug off by default")
	}
}

func TestRunCmd_Flags(t *testing.T) {
	cli, _ := parse(t, "--config", "custom.toml", "run", "plan.yaml",
		"-r", "write the SRS", "--project", "Shop", "--base-dir", "/work/Shop",
		"--branch", "main", "-o", "out.json", "--no-interactive", "--debug")

	if cli.Config != "custom.toml" {
		t.Errorf("expected config 'custom.toml', got %q", cli.Config)
	}
	if cli.Run.Request != "write the SRS" {
		t.Errorf("unexpected request %q", cli.Run.Request)
	}
	if cli.Run.Project != "Shop" || cli.Run.BaseDir != "/work/Shop" || cli.Run.Branch != "main" {
		t.Errorf("unexpected project flags: %+v", cli.Run)
	}
	if cli.Run.Output != "out.json" {
		t.Errorf("expected output 'out.json', got %q", cli.Run.Output)
	}
	if cli.Run.Interactive {
		t.Error("expected --no-interactive to disable prompting")
	}
	if !cli.Run.Debug {
		t.Error("expected debug on")
	}
}

func TestResumeCmd(t *testing.T) {
	cli, _ := parse(t, "resume", "snap-123", "--reply", "Card and PayPal", "--plan", "plan.yaml")

	if cli.Resume.Snapshot != "snap-123" {
		t.Errorf("expected snapshot 'snap-123', got %q", cli.Resume.Snapshot)
	}
	if cli.Resume.Reply != "Card and PayPal" {
		t.Errorf("unexpected reply %q", cli.Resume.Reply)
	}
	if cli.Resume.Plan != "plan.yaml" {
		t.Errorf("unexpected plan %q", cli.Resume.Plan)
	}
}

func TestRetryCmd(t *testing.T) {
	cli, _ := parse(t, "retry", "failure-abc")
	if cli.Retry.Failure != "failure-abc" {
		t.Errorf("expected failure 'failure-abc', got %q", cli.Retry.Failure)
	}
}

func TestReplayCmd_Verbose(t *testing.T) {
	cli, _ := parse(t, "replay", "-vv", "--no-pager", "journal.jsonl")

	if cli.Replay.Journal != "journal.jsonl" {
		t.Errorf("expected journal 'journal.jsonl', got %q", cli.Replay.Journal)
	}
	if cli.Replay.Verbose != 2 {
		t.Errorf("expected verbose=2, got %d", cli.Replay.Verbose)
	}
	if !cli.Replay.NoPager {
		t.Error("expected no-pager")
	}
}

func TestSnapshotsCmd_Delete(t *testing.T) {
	cli, _ := parse(t, "snapshots", "--delete", "snap-1")
	if cli.Snapshots.Delete != "snap-1" {
		t.Errorf("expected delete 'snap-1', got %q", cli.Snapshots.Delete)
	}
}

func TestRunCmd_MissingPlan(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli, kongVars())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := parser.Parse([]string{"run"}); err == nil {
		t.Error("expected error when plan argument is missing")
	}
}
