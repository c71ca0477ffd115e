package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/vinayprograms/docplan/internal/checkpoint"
	"github.com/vinayprograms/docplan/internal/config"
	"github.com/vinayprograms/docplan/internal/iterlimit"
	"github.com/vinayprograms/docplan/internal/plan"
	"github.com/vinayprograms/docplan/internal/session"
	"github.com/vinayprograms/docplan/internal/specialist"
)

// Run executes a plan.
func (r *RunCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	p, err := plan.LoadFile(r.Plan)
	if err != nil {
		return err
	}
	start, err := projectContext(cfg, r.Project, r.BaseDir, r.Branch)
	if err != nil {
		return err
	}

	rt := newRuntime(cfg, globalCreds, r.Debug)
	defer rt.close()
	if err := rt.setup(); err != nil {
		return err
	}

	journal, err := rt.journals.Create(p.ID, map[string]string{"request": r.Request, "plan_file": r.Plan})
	if err != nil {
		return fmt.Errorf("creating journal: %w", err)
	}
	exec := rt.planExecutor(start)
	exec.SetJournal(journal, rt.journals)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, _ := exec.Execute(ctx, p, start, rt.model, r.Request)
	res = rt.answerQuestions(ctx, exec, p, res, r.Interactive && isTerminal(os.Stdin))
	return rt.report(res, r.Output)
}

// Run continues a paused plan.
func (r *ResumeCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	rt := newRuntime(cfg, globalCreds, r.Debug)
	defer rt.close()
	if err := rt.setup(); err != nil {
		return err
	}

	var snap plan.ResumeSnapshot
	if _, err := rt.checkpoints.Load(r.Snapshot, &snap); err != nil {
		return fmt.Errorf("loading snapshot %s: %w", r.Snapshot, err)
	}
	p := snap.Plan
	if r.Plan != "" {
		if p, err = plan.LoadFile(r.Plan); err != nil {
			return err
		}
	}

	reply := r.Reply
	if reply == "" {
		if !isTerminal(os.Stdin) {
			return fmt.Errorf("snapshot %s is waiting for a reply: use --reply", r.Snapshot)
		}
		if reply, err = askUser(snap.PendingQuestion); err != nil {
			return err
		}
	}

	exec := rt.planExecutor(snap.Session)
	exec.SetJournal(rt.journalFor(&snap), rt.journals)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, _ := exec.Continue(ctx, p, &snap, reply, rt.model)
	if res.Intent != plan.IntentError {
		// The snapshot is consumed; a new pause saves a new one.
		_ = rt.checkpoints.Delete(r.Snapshot)
	}
	res = rt.answerQuestions(ctx, exec, p, res, isTerminal(os.Stdin))
	return rt.report(res, r.Output)
}

// Run reruns a failed plan from its failing step.
func (r *RetryCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	rt := newRuntime(cfg, globalCreds, r.Debug)
	defer rt.close()
	if err := rt.setup(); err != nil {
		return err
	}

	var failure plan.FailureContext
	if _, err := rt.checkpoints.Load(r.Failure, &failure); err != nil {
		return fmt.Errorf("loading failure %s: %w", r.Failure, err)
	}
	if failure.Plan == nil {
		return fmt.Errorf("failure %s has no plan", r.Failure)
	}
	journal, err := rt.journals.Create(failure.Plan.ID, map[string]string{"request": failure.UserInput, "retry_of": r.Failure})
	if err != nil {
		return fmt.Errorf("creating journal: %w", err)
	}
	exec := rt.planExecutor(failure.Session)
	exec.SetJournal(journal, rt.journals)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, _ := exec.Retry(ctx, &failure, rt.model)
	if res.Intent == plan.IntentCompleted {
		_ = rt.checkpoints.Delete(r.Failure)
	}
	res = rt.answerQuestions(ctx, exec, failure.Plan, res, isTerminal(os.Stdin))
	return rt.report(res, r.Output)
}

// journalFor reopens the journal a snapshot was taken from, or starts a new
// one when it is gone.
func (rt *runtime) journalFor(snap *plan.ResumeSnapshot) *session.Session {
	if snap.JournalID != "" {
		if sess, err := rt.journals.Get(snap.JournalID); err == nil {
			return sess
		}
	}
	sess, err := rt.journals.Create(snap.PlanID, map[string]string{"request": snap.UserInput})
	if err != nil {
		return nil
	}
	return sess
}

// answerQuestions keeps replying to specialist questions in the terminal
// until the plan stops asking or the user leaves the prompt.
func (rt *runtime) answerQuestions(ctx context.Context, exec *plan.Executor, p *plan.Plan, res *plan.Result, interactive bool) *plan.Result {
	for interactive && res.Intent == plan.IntentInteraction && res.Snapshot != nil {
		reply, err := askUser(res.Question)
		if err != nil {
			return res
		}
		res, _ = exec.Continue(ctx, p, res.Snapshot, reply, rt.model)
	}
	return res
}

// report saves what a later resume or retry needs, prints the result and
// writes it to the output file.
func (rt *runtime) report(res *plan.Result, output string) error {
	var resumeID string
	switch {
	case res.Intent == plan.IntentInteraction && res.Snapshot != nil:
		resumeID = res.Snapshot.ID
		if err := rt.checkpoints.Save(resumeID, "question: "+truncate(res.Question, 80), res.Snapshot); err != nil {
			return fmt.Errorf("saving snapshot: %w", err)
		}
	case res.Intent == plan.IntentFailed && res.Failure != nil:
		resumeID = "failure-" + uuid.NewString()[:8]
		label := fmt.Sprintf("failure: step %d (%s)", res.Failure.FailedStep, res.Failure.FailedSpecialist)
		if err := rt.checkpoints.Save(resumeID, label, res.Failure); err != nil {
			return fmt.Errorf("saving failure: %w", err)
		}
	}

	rt.console.result(res, resumeID)

	if output != "" {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		if err := os.WriteFile(output, data, 0644); err != nil {
			return fmt.Errorf("writing result: %w", err)
		}
	}

	switch res.Intent {
	case plan.IntentFailed, plan.IntentError:
		if res.Err != nil {
			return res.Err
		}
		return errors.New(res.Error)
	case plan.IntentCancelled:
		return errors.New("cancelled")
	}
	return nil
}

// Run validates a plan file.
func (v *ValidateCmd) Run() error {
	p, err := plan.LoadFile(v.Plan)
	if err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	fmt.Printf("✓ Valid plan: %s (%d steps)\n", p.ID, len(p.Steps))
	return nil
}

// Run prints plan structure with resolved limits and archetypes.
func (i *InspectCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	p, err := plan.LoadFile(i.Plan)
	if err != nil {
		return err
	}

	var dynamic iterlimit.Source
	if path := cfg.Iterations.DynamicFile; path != "" {
		if fs, err := iterlimit.NewFileSource(path); err == nil {
			dynamic = fs
		}
	}
	inspectPlan(os.Stdout, p, iterlimit.NewResolver(limitLayers(cfg), dynamic), specialist.ProfilesFromConfig(cfg.Specialists), cfg)
	if err := p.Validate(); err != nil {
		fmt.Printf("\n%s %v\n", failStyle.Render("invalid:"), err)
	}
	return nil
}

func inspectPlan(w io.Writer, p *plan.Plan, limits *iterlimit.Resolver, profiles specialist.Profiles, cfg *config.Config) {
	fmt.Fprintf(w, "%s %s\n", headerStyle.Render("Plan:"), p.ID)
	if p.Description != "" {
		fmt.Fprintf(w, "%s %s\n", dimStyle.Render("Description:"), p.Description)
	}
	fmt.Fprintf(w, "%s %d\n\n", dimStyle.Render("Steps:"), len(p.Steps))

	for _, step := range p.Steps {
		prof := profiles.Lookup(step.SpecialistID)
		limit, layer := limits.Explain(step.SpecialistID)
		archetype := string(prof.Archetype)
		if archetype == "" {
			archetype = "unknown"
		}
		fmt.Fprintf(w, "  %s %s\n", stepStyle.Render(fmt.Sprintf("[%d]", step.Index)), step.SpecialistID)
		fmt.Fprintf(w, "      %s\n", step.Description)
		fmt.Fprintf(w, "      %s %d (%s)  %s %s", dimStyle.Render("limit:"), limit, layer, dimStyle.Render("archetype:"), archetype)
		if cfg.IsSessionChanging(step.SpecialistID) {
			fmt.Fprintf(w, "  %s", askStyle.Render("session-changing"))
		}
		fmt.Fprintln(w)
		if len(step.DependsOn) > 0 {
			deps := make([]string, len(step.DependsOn))
			for j, d := range step.DependsOn {
				deps[j] = fmt.Sprintf("%d", d)
			}
			fmt.Fprintf(w, "      %s %s\n", dimStyle.Render("depends on:"), strings.Join(deps, ", "))
		}
		if step.WorkflowMode != "" {
			fmt.Fprintf(w, "      %s %s\n", dimStyle.Render("mode:"), step.WorkflowMode)
		}
	}
}

// Run lists or deletes saved snapshots.
func (s *SnapshotsCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	store, err := checkpoint.NewStore(snapshotDir(cfg))
	if err != nil {
		return err
	}

	if s.Delete != "" {
		if err := store.Delete(s.Delete); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", s.Delete)
		return nil
	}

	entries, err := store.List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No saved snapshots")
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].SavedAt.After(entries[j].SavedAt) })
	for _, e := range entries {
		fmt.Printf("%s  %s  %s\n", e.SavedAt.Format("2006-01-02 15:04:05"), e.ID, dimStyle.Render(e.Label))
	}
	return nil
}
