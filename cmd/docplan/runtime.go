package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vinayprograms/agentkit/credentials"
	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/policy"
	"github.com/vinayprograms/agentkit/telemetry"
	"github.com/vinayprograms/agentkit/tools"
	"github.com/vinayprograms/docplan/internal/checkpoint"
	"github.com/vinayprograms/docplan/internal/config"
	"github.com/vinayprograms/docplan/internal/events"
	"github.com/vinayprograms/docplan/internal/history"
	"github.com/vinayprograms/docplan/internal/iterlimit"
	"github.com/vinayprograms/docplan/internal/model"
	"github.com/vinayprograms/docplan/internal/plan"
	"github.com/vinayprograms/docplan/internal/project"
	"github.com/vinayprograms/docplan/internal/session"
	"github.com/vinayprograms/docplan/internal/specialist"
	"github.com/vinayprograms/docplan/internal/toolexec"
	"github.com/vinayprograms/docplan/internal/validation"
)

// runtime holds everything a plan execution needs.
type runtime struct {
	cfg   *config.Config
	creds *credentials.Credentials
	debug bool

	// Components
	provider    llm.Provider
	model       model.Model
	registry    *tools.Registry
	telem       telemetry.Exporter
	limits      *iterlimit.Resolver
	dynamic     *iterlimit.FileSource
	specialists *specialist.Executor
	exec        *plan.Executor
	publisher   events.Publisher
	console     *console

	// Storage
	storagePath string
	journals    *session.Manager
	journalDir  string
	checkpoints *checkpoint.Store

	// Cleanup
	closers []func()
}

func newRuntime(cfg *config.Config, creds *credentials.Credentials, debug bool) *runtime {
	return &runtime{
		cfg:         cfg,
		creds:       creds,
		debug:       debug,
		storagePath: cfg.StoragePath(),
		console:     newConsole(os.Stdout),
	}
}

// setup initializes all runtime components.
func (rt *runtime) setup() error {
	if err := rt.setupStorage(); err != nil {
		return err
	}
	if err := rt.createProvider(); err != nil {
		return err
	}
	if err := rt.setupTelemetry(); err != nil {
		return err
	}
	if err := rt.setupLimits(); err != nil {
		return err
	}
	if err := rt.setupRegistry(); err != nil {
		return err
	}
	rt.setupPublisher()
	rt.createExecutors()
	return nil
}

func (rt *runtime) addCloser(fn func()) {
	rt.closers = append(rt.closers, fn)
}

// close releases resources in reverse order.
func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// setupStorage opens the journal and snapshot stores. Storage is needed even
// for commands that never call a model.
func (rt *runtime) setupStorage() error {
	if err := os.MkdirAll(rt.storagePath, 0755); err != nil {
		return fmt.Errorf("creating storage directory: %w", err)
	}
	rt.journalDir = journalDir(rt.cfg)
	store, err := session.NewFileStore(rt.journalDir)
	if err != nil {
		return fmt.Errorf("creating journal store: %w", err)
	}
	rt.journals = session.NewManager(store)

	rt.checkpoints, err = checkpoint.NewStore(snapshotDir(rt.cfg))
	if err != nil {
		return fmt.Errorf("creating snapshot store: %w", err)
	}
	return nil
}

// snapshotDir is where resume snapshots and failure contexts are kept.
func snapshotDir(cfg *config.Config) string {
	return filepath.Join(cfg.StoragePath(), "snapshots")
}

// journalDir is where plan journals are kept.
func journalDir(cfg *config.Config) string {
	return filepath.Join(cfg.StoragePath(), "journals")
}

// journalFile is the journal file for a journal id.
func journalFile(cfg *config.Config, id string) string {
	return filepath.Join(journalDir(cfg), id+".jsonl")
}

// createProvider creates the LLM provider and wraps it as a model.
func (rt *runtime) createProvider() error {
	providerName := rt.cfg.LLM.Provider
	if providerName == "" {
		providerName = llm.InferProviderFromModel(rt.cfg.LLM.Model)
	}
	if providerName == "" && rt.cfg.LLM.Model == "" {
		return fmt.Errorf("LLM model not configured")
	}

	apiKey := rt.cfg.GetAPIKey()
	if apiKey == "" && rt.creds != nil {
		apiKey = rt.creds.GetAPIKey(providerName)
	}

	var err error
	rt.provider, err = llm.NewProvider(llm.ProviderConfig{
		Provider:  providerName,
		Model:     rt.cfg.LLM.Model,
		APIKey:    apiKey,
		MaxTokens: rt.cfg.LLM.MaxTokens,
		BaseURL:   rt.cfg.LLM.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("creating LLM provider: %w", err)
	}
	rt.model = model.NewProviderModel(rt.provider, rt.cfg.LLM.System)
	return nil
}

// setupTelemetry creates the telemetry exporter.
func (rt *runtime) setupTelemetry() error {
	var err error
	if rt.cfg.Telemetry.Enabled {
		rt.telem, err = telemetry.NewExporter(rt.cfg.Telemetry.Protocol, rt.cfg.Telemetry.Endpoint)
		if err != nil {
			return fmt.Errorf("creating telemetry exporter: %w", err)
		}
	} else {
		rt.telem = telemetry.NewNoopExporter()
	}
	rt.addCloser(func() { rt.telem.Close() })
	return nil
}

// setupLimits builds the iteration limit resolver, with the hot-reloaded
// dynamic layer when a file is configured.
func (rt *runtime) setupLimits() error {
	var dynamic iterlimit.Source
	if path := rt.cfg.Iterations.DynamicFile; path != "" {
		fs, err := iterlimit.NewFileSource(path)
		if err != nil {
			return fmt.Errorf("loading dynamic iteration limits: %w", err)
		}
		if err := fs.Watch(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: iteration limits will not hot-reload: %v\n", err)
		} else {
			rt.addCloser(func() { fs.Close() })
		}
		rt.dynamic = fs
		dynamic = fs
	}
	rt.limits = iterlimit.NewResolver(limitLayers(rt.cfg), dynamic)
	return nil
}

// limitLayers maps configuration onto the resolver's static layers.
// Categories declared on specialist profiles fill gaps in the explicit map.
func limitLayers(cfg *config.Config) iterlimit.Layers {
	categories := make(map[string]string, len(cfg.Iterations.Categories)+len(cfg.Specialists))
	for id, sc := range cfg.Specialists {
		if sc.Category != "" {
			categories[id] = sc.Category
		}
	}
	for id, c := range cfg.Iterations.Categories {
		categories[id] = c
	}
	return iterlimit.Layers{
		GlobalDefault:    cfg.Iterations.GlobalDefault,
		Overrides:        cfg.Iterations.Overrides,
		CategoryDefaults: cfg.Iterations.CategoryDefaults,
		Categories:       categories,
	}
}

// setupRegistry creates the tool registry that backs the tool facade.
func (rt *runtime) setupRegistry() error {
	workspace := rt.cfg.Tools.Workspace
	if workspace == "" {
		workspace, _ = os.Getwd()
	}

	pol, err := policy.LoadFile(filepath.Join(workspace, "policy.toml"))
	if os.IsNotExist(err) {
		pol = policy.New()
		err = nil
	}
	if err != nil {
		return fmt.Errorf("loading policy: %w", err)
	}
	pol.Workspace = workspace

	rt.registry = tools.NewRegistry(pol)
	if rt.creds != nil {
		rt.registry.SetCredentials(rt.creds)
	}
	return nil
}

// setupPublisher fans progress events out to the console and, when
// configured, to NATS.
func (rt *runtime) setupPublisher() {
	pubs := events.Multi{events.Func(rt.console.event)}
	if url := rt.cfg.Events.NATSURL; url != "" {
		np, err := events.NewNATSPublisher(url, rt.cfg.Events.Subject)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: progress events will not be published: %v\n", err)
		} else {
			pubs = append(pubs, np)
		}
	}
	rt.publisher = pubs
	rt.addCloser(func() { rt.publisher.Close() })
}

// retryPolicy converts the retry configuration.
func retryPolicy(cfg config.RetryConfig) model.Policy {
	p := model.DefaultPolicy()
	if cfg.NetworkAttempts > 0 {
		p.NetworkAttempts = cfg.NetworkAttempts
	}
	if cfg.TokenLimitAttempts > 0 {
		p.TokenLimitAttempts = cfg.TokenLimitAttempts
	}
	if cfg.ServerAttempts > 0 {
		p.ServerAttempts = cfg.ServerAttempts
	}
	p.InitialBackoff, p.MaxBackoff = cfg.Backoff()
	return p
}

// sessionStore picks where refreshed project context comes from.
func sessionStore(cfg *config.Config, initial project.Context) project.Store {
	if cfg.Session.File != "" {
		return project.NewFileStore(cfg.Session.File)
	}
	return project.NewStaticStore(initial)
}

// createExecutors wires the specialist and plan executors.
func (rt *runtime) createExecutors() {
	facade := toolexec.NewFacade(
		toolexec.NewRegistryBackend(rt.registry),
		toolexec.NewAccessTable(rt.cfg.Tools.Roles),
		rt.cfg.Tools.FileMutating,
	)
	rt.specialists = specialist.New(specialist.Config{
		Facade:        facade,
		Limits:        rt.limits,
		Profiles:      specialist.ProfilesFromConfig(rt.cfg.Specialists),
		Caller:        model.NewCaller(retryPolicy(rt.cfg.Retry)),
		Compressor:    history.New(rt.cfg.Engine.HistoryBudget, rt.cfg.Engine.EntryMaxTokens, rt.cfg.Engine.KeepRecent),
		AttemptFactor: rt.cfg.Engine.AttemptFactor,
	})
	rt.specialists.SetDebug(rt.debug)
}

// planExecutor creates a plan executor for one invocation. The project
// context store depends on the invocation's starting context.
func (rt *runtime) planExecutor(initial project.Context) *plan.Executor {
	rt.exec = plan.New(plan.Config{
		Specialists:       rt.specialists,
		Validator:         validation.New(),
		SessionStore:      sessionStore(rt.cfg, initial),
		SessionChanging:   rt.cfg.Session.Changing,
		Denylist:          rt.cfg.Paths.Denylist,
		ValidationRetries: rt.cfg.Engine.ValidationRetry,
		RefineMax:         rt.cfg.Engine.RefineMax,
		Publisher:         rt.publisher,
	})
	return rt.exec
}
