package ops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hpungsan/lichen/internal/artifact"
	"github.com/hpungsan/lichen/internal/errors"
	"github.com/hpungsan/lichen/internal/module"
)

// ExportInput contains parameters for the ExportArtifact operation.
type ExportInput struct {
	Path string // optional, default: <base>/exports/capabilities-<timestamp>.star
}

// ExportOutput contains the result of the ExportArtifact operation.
type ExportOutput struct {
	Path        string   `json:"path"`
	Bytes       int      `json:"bytes"`
	Definitions []string `json:"definitions"`
	ExportedAt  int64    `json:"exported_at"`
}

// ExportArtifact writes a copy of the current capability artifact.
func (r *Runtime) ExportArtifact(ctx context.Context, input ExportInput) (*ExportOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	now := time.Now()
	exportsDir := ExportsDir(r.baseDir)

	exportPath := input.Path
	if exportPath == "" {
		exportPath = filepath.Join(exportsDir, fmt.Sprintf("capabilities-%s%s", now.Format("2006-01-02T150405"), ArtifactExt))
	}

	if err := ValidateExportPath(exportPath, exportsDir, r.cfg); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(exportPath), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	text, err := r.Artifact()
	if err != nil {
		return nil, err
	}

	if err := artifact.WriteAtomic(exportPath, []byte(text)); err != nil {
		if errors.Is(err, errors.ErrInvalidRequest) || errors.Is(err, errors.ErrFileNotFound) {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to write export: %w", err))
	}

	return &ExportOutput{
		Path:        exportPath,
		Bytes:       len(text),
		Definitions: defsOrEmpty(text),
		ExportedAt:  now.Unix(),
	}, nil
}

func defsOrEmpty(text string) []string {
	if names := module.Defined(text); names != nil {
		return names
	}
	return []string{}
}
