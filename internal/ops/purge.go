package ops

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hpungsan/lichen/internal/db"
	"github.com/hpungsan/lichen/internal/errors"
)

// PurgeInput contains parameters for the PurgeHistory operation.
type PurgeInput struct {
	OlderThanDays *int // optional, only purge records created more than N days ago
	FailedOnly    bool // keep completed records
}

// PurgeOutput contains the result of the PurgeHistory operation.
type PurgeOutput struct {
	Purged  int    `json:"purged"`
	Message string `json:"message"`
}

// PurgeHistory deletes extension records from the ledger. The artifact is
// not touched.
func PurgeHistory(ctx context.Context, database *sql.DB, input PurgeInput) (*PurgeOutput, error) {
	var cutoff int64
	if input.OlderThanDays != nil {
		if *input.OlderThanDays < 0 {
			return nil, errors.NewInvalidRequest("older_than_days must not be negative")
		}
		cutoff = time.Now().AddDate(0, 0, -*input.OlderThanDays).Unix()
	}

	count, err := db.Purge(ctx, database, cutoff, input.FailedOnly)
	if err != nil {
		return nil, err
	}

	return &PurgeOutput{
		Purged:  count,
		Message: formatPurgeMessage(count, input.FailedOnly, input.OlderThanDays),
	}, nil
}

// formatPurgeMessage creates a human-readable message for the purge result.
func formatPurgeMessage(count int, failedOnly bool, olderThanDays *int) string {
	kind := "extension records"
	if failedOnly {
		kind = "failed extension records"
	}
	if count == 0 {
		return "No " + kind + " to purge"
	}

	word := "record"
	if count > 1 {
		word = "records"
	}
	msg := fmt.Sprintf("Purged %d %s", count, word)
	if failedOnly {
		msg = fmt.Sprintf("Purged %d failed %s", count, word)
	}

	if olderThanDays != nil {
		msg += fmt.Sprintf(" (created more than %d days ago)", *olderThanDays)
	}
	return msg
}
