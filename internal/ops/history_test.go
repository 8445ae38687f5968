package ops

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/hpungsan/lichen/internal/db"
	"github.com/hpungsan/lichen/internal/errors"
)

func seedLedger(t *testing.T, env *testEnv) {
	t.Helper()
	ctx := context.Background()
	env.rt.Extend(ctx, "name:ping;body:return 'pong'")
	env.rt.Extend(ctx, "name:leak;body:import os")
	env.rt.Extend(ctx, "name:boom;body:return 1 // 0")
	env.rt.Extend(ctx, "name:ping;body:return 'pong again'")
}

func TestHistory_NewestFirst(t *testing.T) {
	env := newTestEnv(t, nil)
	seedLedger(t, env)

	out, err := History(context.Background(), env.db, HistoryInput{})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}

	if out.Pagination.Total != 4 {
		t.Errorf("Total = %d, want 4", out.Pagination.Total)
	}
	if out.Pagination.Limit != DefaultListLimit {
		t.Errorf("Limit = %d, want %d", out.Pagination.Limit, DefaultListLimit)
	}
	if out.Pagination.HasMore {
		t.Error("HasMore should be false")
	}
	if len(out.Items) != 4 {
		t.Fatalf("len(Items) = %d, want 4", len(out.Items))
	}
	if out.Items[0].Result != "pong again" {
		t.Errorf("Items[0].Result = %q, want newest record first", out.Items[0].Result)
	}
}

func TestHistory_Filters(t *testing.T) {
	env := newTestEnv(t, nil)
	seedLedger(t, env)
	ctx := context.Background()

	failed, err := History(ctx, env.db, HistoryInput{Status: db.StatusFailed})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if failed.Pagination.Total != 2 {
		t.Errorf("failed Total = %d, want 2", failed.Pagination.Total)
	}
	for _, item := range failed.Items {
		if item.ErrorCode == nil {
			t.Errorf("failed record %s has no error code", item.Name)
		}
	}

	pings, err := History(ctx, env.db, HistoryInput{Name: "ping"})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if pings.Pagination.Total != 2 {
		t.Errorf("ping Total = %d, want 2", pings.Pagination.Total)
	}
	for _, item := range pings.Items {
		if item.Source == nil {
			t.Errorf("record %s has no source", item.ID)
		}
	}
}

func TestHistory_Pagination(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		e := &db.Extension{
			ID:        fmt.Sprintf("01HIST%020d", i),
			Name:      fmt.Sprintf("cap_%d", i),
			Spec:      "body:return 1",
			Status:    db.StatusCompleted,
			Stage:     StageRegister,
			Result:    "1",
			CreatedAt: time.Now().Unix() + int64(i),
		}
		if err := db.Insert(ctx, env.db, e); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	out, err := History(ctx, env.db, HistoryInput{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(out.Items) != 2 || !out.Pagination.HasMore {
		t.Errorf("got %d items, HasMore=%v; want 2 items and more", len(out.Items), out.Pagination.HasMore)
	}
	if out.Items[0].Name != "cap_3" {
		t.Errorf("Items[0].Name = %q, want cap_3", out.Items[0].Name)
	}

	out, err = History(ctx, env.db, HistoryInput{Limit: 1000, Offset: -3})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if out.Pagination.Limit != MaxListLimit || out.Pagination.Offset != 0 {
		t.Errorf("Pagination = %+v, want limit clamped to %d and offset 0", out.Pagination, MaxListLimit)
	}
}

func TestHistory_InvalidStatus(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := History(context.Background(), env.db, HistoryInput{Status: "pending"})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected INVALID_REQUEST, got: %v", err)
	}
}

func TestFetchRecord(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	out := env.rt.Extend(ctx, "name:ping;body:return 'pong'")
	if out.ID == "" {
		t.Fatal("expected a ledger id")
	}

	item, err := FetchRecord(ctx, env.db, out.ID)
	if err != nil {
		t.Fatalf("FetchRecord failed: %v", err)
	}
	if item.Name != "ping" || item.Status != db.StatusCompleted {
		t.Errorf("got %s/%s, want ping/completed", item.Name, item.Status)
	}
	if item.Source == nil || !strings.Contains(*item.Source, "def ping(") {
		t.Errorf("Source = %v, want the synthesized definition", item.Source)
	}

	if _, err := FetchRecord(ctx, env.db, "01NOPE"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected NOT_FOUND, got: %v", err)
	}
	if _, err := FetchRecord(ctx, env.db, ""); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected INVALID_REQUEST, got: %v", err)
	}
}
