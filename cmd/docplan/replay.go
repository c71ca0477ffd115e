package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/vinayprograms/docplan/internal/replay"
)

// Run replays a journal.
func (r *ReplayCmd) Run(cli *CLI) error {
	path, err := r.journalPath(cli.Config)
	if err != nil {
		return err
	}

	replayer := replay.New(os.Stdout, r.Verbose)
	switch {
	case r.Live:
		return replayer.ReplayFileLive(path)
	case !r.NoPager && isTerminal(os.Stdout):
		return replayer.ReplayFileInteractive(path)
	default:
		return replayer.ReplayFile(path)
	}
}

// journalPath accepts either a file path or a journal id from the
// configured storage directory.
func (r *ReplayCmd) journalPath(configPath string) (string, error) {
	if _, err := os.Stat(r.Journal); err == nil {
		return r.Journal, nil
	}
	if strings.ContainsRune(r.Journal, os.PathSeparator) || strings.HasSuffix(r.Journal, ".jsonl") {
		return "", fmt.Errorf("journal not found: %s", r.Journal)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return "", fmt.Errorf("loading config: %w", err)
	}
	path := journalFile(cfg, r.Journal)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("journal not found: %s", r.Journal)
	}
	return path, nil
}
