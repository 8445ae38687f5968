package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/lichen/internal/capability"
	"github.com/hpungsan/lichen/internal/db"
	"github.com/hpungsan/lichen/internal/errors"
	"github.com/hpungsan/lichen/internal/module"
)

// ReplayOutput reports what Replay rebuilt.
type ReplayOutput struct {
	Replayed   []string          `json:"replayed"`
	Skipped    []string          `json:"skipped,omitempty"`
	Failed     map[string]string `json:"failed,omitempty"`
	Registered []string          `json:"registered,omitempty"`
}

// Replay re-appends, oldest first, the latest ledger definition of every
// capability that reached the artifact and is not defined there now. The
// definitions are not executed again. Replayed units go through validation
// and preflight like a fresh extension, then land in a single append.
func (r *Runtime) Replay(ctx context.Context) (*ReplayOutput, error) {
	if r.db == nil {
		return nil, errors.NewInvalidRequest("extension ledger is not available")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := db.ListReplayable(ctx, r.db)
	if err != nil {
		return nil, err
	}

	current, err := r.store.Read()
	if err != nil {
		return nil, err
	}
	defined := make(map[string]bool)
	for _, name := range module.Defined(current) {
		defined[name] = true
	}

	out := &ReplayOutput{Replayed: []string{}}
	var pending strings.Builder
	for _, rec := range latestPerName(records) {
		if defined[rec.Name] {
			out.Skipped = append(out.Skipped, rec.Name)
			continue
		}

		unit, err := r.replayUnit(ctx, rec, current+pending.String())
		if err != nil {
			if out.Failed == nil {
				out.Failed = make(map[string]string)
			}
			out.Failed[rec.Name] = message(err)
			continue
		}
		pending.WriteString(unit)
		out.Replayed = append(out.Replayed, rec.Name)
	}

	if pending.Len() == 0 {
		return out, nil
	}

	if err := r.persist(pending.String()); err != nil {
		return nil, err
	}
	m, err := r.loader.LoadOrReload(ctx, ModuleID)
	if err != nil {
		return nil, err
	}
	out.Registered = r.registerModule(m)

	r.logger.Info("capabilities replayed", "replayed", out.Replayed, "failed", len(out.Failed))
	return out, nil
}

// replayUnit re-derives the unit from the recorded spec and checks it
// against base.
func (r *Runtime) replayUnit(ctx context.Context, rec db.Extension, base string) (string, error) {
	req, err := capability.Parse(rec.Spec)
	if err != nil {
		return "", err
	}
	if err := r.validator.Validate(req.Body); err != nil {
		return "", err
	}
	unit := capability.Render(req)
	if err := r.loader.Check(ctx, ModuleID, base+unit, req.FuncName()); err != nil {
		return "", err
	}
	return unit, nil
}

// latestPerName keeps the newest record for each name, ordered by when that
// record was made. records must be oldest first.
func latestPerName(records []db.Extension) []db.Extension {
	last := make(map[string]int, len(records))
	for i, rec := range records {
		last[rec.Name] = i
	}
	out := make([]db.Extension, 0, len(last))
	for i, rec := range records {
		if last[rec.Name] == i {
			out = append(out, rec)
		}
	}
	return out
}
