// Package main is the entry point for the docplan CLI.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/vinayprograms/agentkit/credentials"
	"github.com/vinayprograms/docplan/internal/config"
	"github.com/vinayprograms/docplan/internal/project"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// globalCreds holds loaded credentials (file > env fallback happens in GetAPIKey)
var globalCreds *credentials.Credentials

func init() {
	if creds, _, err := credentials.Load(); err == nil && creds != nil {
		globalCreds = creds
	}
	_ = godotenv.Load()
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("docplan"),
		kong.Description("Execute multi-step document plans with specialist agents."),
		kong.UsageOnError(),
		kongVars(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}

// Run prints version information.
func (v *VersionCmd) Run() error {
	fmt.Printf("docplan version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}

// loadConfig reads the config file given on the command line, or
// ./docplan.toml when none is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.LoadDefault()
}

// projectContext builds the starting project context. Flags win over the
// configured project file, which wins over the current directory.
func projectContext(cfg *config.Config, name, baseDir, branch string) (project.Context, error) {
	var c project.Context
	if cfg.Session.File != "" {
		loaded, err := project.LoadFile(cfg.Session.File)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return c, err
		}
		if err == nil {
			c = loaded
		}
	}
	if baseDir != "" {
		abs, err := filepath.Abs(baseDir)
		if err != nil {
			return c, fmt.Errorf("resolving base directory: %w", err)
		}
		c.BaseDir = abs
	}
	if c.BaseDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return c, fmt.Errorf("failed to get current directory: %w", err)
		}
		c.BaseDir = cwd
	}
	if name != "" {
		c.Name = name
	}
	if c.Name == "" {
		c.Name = filepath.Base(c.BaseDir)
	}
	if branch != "" {
		c.Branch = branch
	}
	return c, nil
}

// isTerminal checks if the given file is a terminal.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
