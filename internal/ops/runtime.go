package ops

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hpungsan/lichen/internal/artifact"
	"github.com/hpungsan/lichen/internal/capability"
	"github.com/hpungsan/lichen/internal/config"
	"github.com/hpungsan/lichen/internal/directory"
	"github.com/hpungsan/lichen/internal/errors"
	"github.com/hpungsan/lichen/internal/module"
	"github.com/hpungsan/lichen/internal/registry"
)

// ModuleID is the loader id the capability artifact is mounted under.
const ModuleID = "capabilities"

// ToolGenerate is the meta tool that synthesizes new capabilities.
const ToolGenerate = "generate_and_run_tool"

const generateDescription = "Generates and runs a new tool. Input: a spec " +
	"`name:<func>;params:<params>;body:<line1>|<line2>|...;doc:<docstring>;arg:<value>`. " +
	"Body lines may call current_user(), user_groups(username), list_users(), list_groups() " +
	"and privileged_accounts(). The new tool stays available afterwards."

// Runtime owns the capability artifact, the loaded module and the tool
// registry. Extend, Reset, Replay and generated-tool calls are serialized.
type Runtime struct {
	mu sync.Mutex

	db        *sql.DB
	cfg       *config.Config
	baseDir   string
	store     *artifact.Store
	loader    *module.Loader
	registry  *registry.Registry
	validator *capability.Validator
	directory directory.Directory
	baseline  registry.Snapshot
	logger    *slog.Logger
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithDirectory replaces the fixture-backed directory.
func WithDirectory(d directory.Directory) Option {
	return func(r *Runtime) {
		r.directory = d
	}
}

// WithLogger sets the runtime logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		r.logger = logger
	}
}

// NewRuntime wires the store, loader and registry. The baseline snapshot is
// taken before any generated capability is registered; capabilities already
// in the artifact are then loaded and registered on top of it.
// database may be nil, in which case attempts are not recorded.
func NewRuntime(ctx context.Context, database *sql.DB, cfg *config.Config, baseDir string, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	r := &Runtime{
		db:        database,
		cfg:       cfg,
		baseDir:   baseDir,
		store:     artifact.NewStore(cfg.ArtifactPath(baseDir), cfg.BackupPath(baseDir)),
		registry:  registry.New(),
		validator: capability.NewValidator(cfg.ExtraDenyTokens...),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.directory == nil {
		static := directory.Load(cfg.DirectoryPath(baseDir))
		if err := static.Err(); err != nil {
			r.logger.Warn("directory unavailable, lookups will fail", "error", err)
		}
		r.directory = static
	}

	r.loader = module.NewLoader(
		module.WithLibrary(directory.LibraryName, directory.Library(r.directory)),
		module.WithTimeout(cfg.ExecTimeout()),
		module.WithMaxSteps(cfg.MaxExecutionSteps),
		module.WithMaxResultBytes(cfg.MaxResultBytes),
		module.WithLogger(r.logger),
	)
	r.loader.Mount(ModuleID, r.store)

	r.registry.RegisterAll(directory.Tools(r.directory)...)
	r.registry.RegisterAll(r.generateTool())
	r.baseline = r.registry.Snapshot()

	if err := r.store.InitIfAbsent(); err != nil {
		return nil, err
	}

	m, err := r.loader.LoadOrReload(ctx, ModuleID)
	if err != nil {
		r.logger.Warn("capability artifact does not load", "path", r.store.Path(), "error", err)
		return r, nil
	}
	if added := r.registerModule(m); len(added) > 0 {
		r.logger.Info("registered existing capabilities", "tools", added)
	}
	return r, nil
}

// Registry returns the live tool registry.
func (r *Runtime) Registry() *registry.Registry { return r.registry }

// Store returns the capability artifact store.
func (r *Runtime) Store() *artifact.Store { return r.store }

// Baseline returns the tool set taken before any generated capability.
func (r *Runtime) Baseline() registry.Snapshot { return r.baseline }

// Config returns the effective configuration.
func (r *Runtime) Config() *config.Config { return r.cfg }

// Tools lists registered tools sorted by name.
func (r *Runtime) Tools() []registry.ToolRecord {
	return r.registry.List()
}

// Invoke calls a registered tool by name.
func (r *Runtime) Invoke(ctx context.Context, name string, arg *string) (string, error) {
	rec, ok := r.registry.Get(name)
	if !ok {
		return "", errors.NewNotFound(name)
	}
	return rec.Invoke(ctx, arg)
}

// Artifact returns the current artifact text. Reads under r.mu never see a
// half-appended unit.
func (r *Runtime) Artifact() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Read()
}

// Source returns the definition of a generated tool as it appears in the
// artifact, last definition winning.
func (r *Runtime) Source(name string) (string, bool) {
	text, err := r.Artifact()
	if err != nil {
		return "", false
	}
	return module.SourceOf(text, name)
}

func (r *Runtime) generateTool() registry.ToolRecord {
	return registry.ToolRecord{
		Name:        ToolGenerate,
		Description: generateDescription,
		Kind:        registry.KindBuiltin,
		Invoke: func(ctx context.Context, arg *string) (string, error) {
			spec := ""
			if arg != nil {
				spec = *arg
			}
			return r.Extend(ctx, spec).Result, nil
		},
	}
}

// registerModule adds every public callable of m that is not yet registered.
func (r *Runtime) registerModule(m *module.Module) []string {
	fns := m.Functions()
	records := make([]registry.ToolRecord, 0, len(fns))
	for _, fn := range fns {
		desc := fn.Doc
		if desc == "" {
			desc = "Dynamically generated tool: " + fn.Name
		}
		records = append(records, registry.ToolRecord{
			Name:        fn.Name,
			Description: desc,
			Kind:        registry.KindGenerated,
			Invoke:      r.invokeGenerated(fn.Name),
		})
	}
	return r.registry.RegisterAll(records...)
}

// invokeGenerated resolves name against the resident module at call time,
// so the latest definition under a name is the one that runs.
func (r *Runtime) invokeGenerated(name string) registry.InvokeFunc {
	return func(ctx context.Context, arg *string) (string, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.call(ctx, name, arg)
	}
}

// call runs name in the resident module. Callers hold r.mu.
func (r *Runtime) call(ctx context.Context, name string, arg *string) (string, error) {
	m := r.loader.Resident(ModuleID)
	if m == nil {
		return "", errors.NewNotFound(name)
	}
	fn, ok := m.Function(name)
	if !ok {
		return "", errors.NewNotFound(name)
	}
	out, err := fn.Call(ctx, arg)
	if err != nil {
		return "", errors.NewExecution(name, err)
	}
	return out, nil
}

func (r *Runtime) describeReloadFailure(err error) string {
	return fmt.Sprintf("error reloading capabilities: %s; the definition was kept in %s, inspect it or run reset",
		message(err), r.store.Path())
}
