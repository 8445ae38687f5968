package ops

import (
	"context"
	"time"

	"github.com/hpungsan/lichen/internal/capability"
	"github.com/hpungsan/lichen/internal/db"
	"github.com/hpungsan/lichen/internal/errors"
)

// ExtendOutput is the outcome of one extension attempt. Result is the text
// handed back to the agent in every case.
type ExtendOutput struct {
	ID         string   `json:"id,omitempty"`
	Name       string   `json:"name,omitempty"`
	Status     string   `json:"status"`
	Stage      string   `json:"stage"`
	ErrorCode  string   `json:"error_code,omitempty"`
	Result     string   `json:"result"`
	Registered []string `json:"registered,omitempty"`
}

func (o *ExtendOutput) fail(stage string, err error, result string) *ExtendOutput {
	o.Status = db.StatusFailed
	o.Stage = stage
	o.ErrorCode = string(errors.CodeOf(err))
	o.Result = result
	return o
}

// Extend synthesizes a capability from spec, appends it to the artifact,
// reloads, runs it once and registers the module's new public functions.
// It never returns an error; failures are reported through the output.
func (r *Runtime) Extend(ctx context.Context, spec string) *ExtendOutput {
	r.mu.Lock()
	defer r.mu.Unlock()

	out, source := r.extend(ctx, spec)
	r.record(ctx, spec, out, source)

	log := r.logger.With("name", out.Name, "stage", out.Stage)
	if out.Status == db.StatusCompleted {
		log.Info("capability extended", "registered", out.Registered)
	} else {
		log.Warn("capability extension failed", "code", out.ErrorCode)
	}
	return out
}

// extend runs the pipeline and returns the synthesized source once it has
// reached the artifact.
func (r *Runtime) extend(ctx context.Context, spec string) (*ExtendOutput, *string) {
	out := &ExtendOutput{}

	req, err := capability.Parse(spec)
	if err != nil {
		return out.fail(StageParse, err, message(err)), nil
	}
	out.Name = req.FuncName()

	if err := r.validator.Validate(req.Body); err != nil {
		return out.fail(StageValidate, err, generationFailed(err)), nil
	}

	unit := capability.Render(req)

	if !r.cfg.SkipPreflight {
		if err := r.preflight(ctx, unit, out.Name); err != nil {
			return out.fail(StagePreflight, err, generationFailed(err)), nil
		}
	}

	if err := r.persist(unit); err != nil {
		return out.fail(StagePersist, err, generationFailed(err)), nil
	}
	source := &unit

	m, err := r.loader.LoadOrReload(ctx, ModuleID)
	if err != nil {
		return out.fail(StageReload, err, r.describeReloadFailure(err)), source
	}

	// Registration follows locate and execute whatever their outcome.
	defer func() {
		out.Registered = r.registerModule(m)
	}()

	if _, ok := m.Function(out.Name); !ok {
		err := errors.NewLookup(out.Name)
		return out.fail(StageLocate, err, err.Message), source
	}

	result, err := r.call(ctx, out.Name, req.ExecArg)
	if err != nil {
		return out.fail(StageExecute, err, "error "+message(err)), source
	}

	out.Status = db.StatusCompleted
	out.Stage = StageRegister
	out.Result = result
	return out, source
}

// preflight loads the artifact plus unit in a scratch environment and checks
// that name is defined by it.
func (r *Runtime) preflight(ctx context.Context, unit, name string) error {
	current, err := r.store.Read()
	if err != nil && !errors.Is(err, errors.ErrFileNotFound) {
		return err
	}
	return r.loader.Check(ctx, ModuleID, current+unit, name)
}

// persist takes the one-time backup and appends unit.
func (r *Runtime) persist(unit string) error {
	if created, err := r.store.EnsureBackup(); err != nil {
		return err
	} else if created {
		r.logger.Info("baseline backup created", "path", r.store.BackupPath())
	}
	return r.store.Append(unit)
}

// record writes the attempt to the ledger. Failures are logged only.
func (r *Runtime) record(ctx context.Context, spec string, out *ExtendOutput, source *string) {
	if r.db == nil {
		return
	}

	id, err := generateULID()
	if err != nil {
		r.logger.Warn("ledger id generation failed", "error", err)
		return
	}

	e := &db.Extension{
		ID:        id,
		Name:      out.Name,
		Spec:      spec,
		Status:    out.Status,
		Stage:     out.Stage,
		Result:    out.Result,
		Source:    source,
		CreatedAt: time.Now().Unix(),
	}
	if out.ErrorCode != "" {
		code := out.ErrorCode
		e.ErrorCode = &code
	}

	if err := db.Insert(ctx, r.db, e); err != nil {
		r.logger.Warn("recording extension failed", "error", err)
		return
	}
	out.ID = id
}

func generationFailed(err error) string {
	return "error generating tool: " + message(err)
}
