package ops

import (
	"context"
)

// ResetOutput reports the tool set after a reset.
type ResetOutput struct {
	Tools   []string `json:"tools"`
	Message string   `json:"message"`
}

// Reset restores the artifact to its baseline, reloads it and restores the
// registry to the baseline snapshot. Store and reload failures are logged;
// the registry is restored regardless.
func (r *Runtime) Reset(ctx context.Context) *ResetOutput {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.RestoreToBaseline(); err != nil {
		r.logger.Warn("restoring capability artifact failed", "error", err)
	}
	if _, err := r.loader.LoadOrReload(ctx, ModuleID); err != nil {
		r.logger.Warn("reloading capability artifact after reset failed", "error", err)
	}
	r.registry.RestoreFrom(r.baseline)

	names := r.baseline.Names()
	r.logger.Info("capabilities reset to baseline", "tools", len(names))
	return &ResetOutput{
		Tools:   names,
		Message: "Capabilities reset to baseline",
	}
}
