package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/lichen/internal/db"
	"github.com/hpungsan/lichen/internal/errors"
)

// HistoryInput contains parameters for the History operation.
type HistoryInput struct {
	Name   string // optional, exact sanitized name
	Status string // optional, "completed" or "failed"
	Limit  int    // optional, default 20, max 100
	Offset int
}

// HistoryItem is one ledger record.
type HistoryItem struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Spec      string  `json:"spec"`
	Status    string  `json:"status"`
	Stage     string  `json:"stage"`
	ErrorCode *string `json:"error_code,omitempty"`
	Result    string  `json:"result"`
	Source    *string `json:"source,omitempty"`
	CreatedAt int64   `json:"created_at"`
}

// HistoryOutput contains the result of the History operation.
type HistoryOutput struct {
	Items      []HistoryItem `json:"items"`
	Pagination Pagination    `json:"pagination"`
}

// History lists extension attempts, newest first.
func History(ctx context.Context, database *sql.DB, input HistoryInput) (*HistoryOutput, error) {
	if input.Status != "" && input.Status != db.StatusCompleted && input.Status != db.StatusFailed {
		return nil, errors.NewInvalidRequest("status must be \"completed\" or \"failed\"")
	}

	limit, offset := clampPage(input.Limit, input.Offset)

	filters := db.ListFilters{}
	if input.Name != "" {
		filters.Name = &input.Name
	}
	if input.Status != "" {
		filters.Status = &input.Status
	}

	records, err := db.List(ctx, database, filters, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := db.Count(ctx, database, filters)
	if err != nil {
		return nil, err
	}

	items := make([]HistoryItem, len(records))
	for i := range records {
		items[i] = itemFrom(&records[i])
	}

	return &HistoryOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
	}, nil
}

// FetchRecord returns one ledger record by id.
func FetchRecord(ctx context.Context, database *sql.DB, id string) (*HistoryItem, error) {
	if id == "" {
		return nil, errors.NewInvalidRequest("record id is required")
	}
	e, err := db.GetByID(ctx, database, id)
	if err != nil {
		return nil, err
	}
	item := itemFrom(e)
	return &item, nil
}

func itemFrom(e *db.Extension) HistoryItem {
	return HistoryItem{
		ID:        e.ID,
		Name:      e.Name,
		Spec:      e.Spec,
		Status:    e.Status,
		Stage:     e.Stage,
		ErrorCode: e.ErrorCode,
		Result:    e.Result,
		Source:    e.Source,
		CreatedAt: e.CreatedAt,
	}
}
