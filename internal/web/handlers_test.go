package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hpungsan/lichen/internal/config"
	"github.com/hpungsan/lichen/internal/db"
	"github.com/hpungsan/lichen/internal/directory"
	"github.com/hpungsan/lichen/internal/ops"
)

func setupTest(t *testing.T) *Handlers {
	t.Helper()
	tmpDir := t.TempDir()
	database, err := db.Init(tmpDir)
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	return newHandlers(t, tmpDir, database)
}

func newHandlers(t *testing.T, baseDir string, database *sql.DB) *Handlers {
	t.Helper()
	dir := directory.NewStatic(directory.Fixture{
		CurrentUser: "test.user",
		Users:       []directory.User{{CN: "test.user", UID: "tuser"}},
		Groups:      []directory.Group{{CN: "developers", Members: []string{"test.user"}}},
	})
	rt, err := ops.NewRuntime(context.Background(), database, config.DefaultConfig(), baseDir, ops.WithDirectory(dir))
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}

	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		t.Fatalf("template sub-FS: %v", err)
	}

	return &Handlers{
		rt:       rt,
		db:       database,
		renderer: NewRenderer(templateSub, "test", nil),
	}
}

// extend synthesizes a capability and fails the test unless it completed.
func extend(t *testing.T, h *Handlers, spec string) *ops.ExtendOutput {
	t.Helper()
	out := h.rt.Extend(context.Background(), spec)
	if out.Status != db.StatusCompleted {
		t.Fatalf("extend %q: %s", spec, out.Result)
	}
	return out
}

func get(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

// --- HandleTools ---

func TestHandleTools_Baseline(t *testing.T) {
	h := setupTest(t)

	rec := get(h.HandleTools, httptest.NewRequest("GET", "/tools", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{directory.ToolCurrentUser, directory.ToolPrivilegedAccounts, ops.ToolGenerate} {
		if !strings.Contains(body, name) {
			t.Errorf("expected tool %q in response", name)
		}
	}
	if !strings.Contains(body, "0 generated") {
		t.Error("expected no generated tools")
	}
}

func TestHandleTools_ShowsGenerated(t *testing.T) {
	h := setupTest(t)
	extend(t, h, "name:ping;doc:Replies pong.;body:return 'pong'")

	rec := get(h.HandleTools, httptest.NewRequest("GET", "/tools", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `href="/tools/ping"`) {
		t.Error("expected link to generated tool")
	}
	if !strings.Contains(body, "1 generated") {
		t.Error("expected one generated tool")
	}
}

func TestHandleTools_JSON(t *testing.T) {
	h := setupTest(t)
	extend(t, h, "name:ping;body:return 'pong'")

	req := httptest.NewRequest("GET", "/tools", nil)
	req.Header.Set("Accept", "application/json")
	rec := get(h.HandleTools, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var resp struct {
		Tools []struct {
			Name string `json:"name"`
			Kind string `json:"kind"`
		} `json:"tools"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if len(resp.Tools) != 7 {
		t.Fatalf("got %d tools, want 7", len(resp.Tools))
	}
	var found bool
	for _, tool := range resp.Tools {
		if tool.Name == "ping" {
			found = tool.Kind == "generated"
		}
	}
	if !found {
		t.Error("expected ping listed as generated")
	}
}

func TestHandleTools_HtmxReturnsContentOnly(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/tools", nil)
	req.Header.Set("HX-Request", "true")
	rec := get(h.HandleTools, req)

	body := rec.Body.String()
	if strings.Contains(body, "<!DOCTYPE html>") {
		t.Error("HTMX response should not include the layout")
	}
	if !strings.Contains(body, ops.ToolGenerate) {
		t.Error("expected tool list in HTMX response")
	}
}

// --- HandleTool ---

func TestHandleTool_GeneratedShowsSource(t *testing.T) {
	h := setupTest(t)
	extend(t, h, "name:ping;doc:Replies **pong**.;body:return 'pong'")

	req := httptest.NewRequest("GET", "/tools/ping", nil)
	req.SetPathValue("name", "ping")
	rec := get(h.HandleTool, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<strong>pong</strong>") {
		t.Error("expected description rendered from markdown")
	}
	if !strings.Contains(body, "def ping(") {
		t.Error("expected definition source")
	}
}

func TestHandleTool_BuiltinHasNoSource(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/tools/"+directory.ToolListUsers, nil)
	req.SetPathValue("name", directory.ToolListUsers)
	req.Header.Set("Accept", "application/json")
	rec := get(h.HandleTool, req)

	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if resp["kind"] != "builtin" {
		t.Errorf("kind = %v, want builtin", resp["kind"])
	}
	if _, ok := resp["source"]; ok {
		t.Error("builtin tools have no source")
	}
}

func TestHandleTool_DescriptionIsEscaped(t *testing.T) {
	h := setupTest(t)
	extend(t, h, "name:xss;doc:<script>alert(1)</script>;body:return 1")

	req := httptest.NewRequest("GET", "/tools/xss", nil)
	req.SetPathValue("name", "xss")
	rec := get(h.HandleTool, req)

	if strings.Contains(rec.Body.String(), "<script>alert(1)</script>") {
		t.Error("raw HTML in a description must not be rendered")
	}
}

func TestHandleTool_NotFound(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/tools/nope", nil)
	req.SetPathValue("name", "nope")
	rec := get(h.HandleTool, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleTool_EmptyName(t *testing.T) {
	h := setupTest(t)

	rec := get(h.HandleTool, httptest.NewRequest("GET", "/tools/", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// --- HandleHistory / HandleRecord ---

func TestHandleHistory_ListsAttempts(t *testing.T) {
	h := setupTest(t)
	extend(t, h, "name:ping;body:return 'pong'")
	h.rt.Extend(context.Background(), "name:leak;body:import os")

	rec := get(h.HandleHistory, httptest.NewRequest("GET", "/history", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "ping") || !strings.Contains(body, "leak") {
		t.Error("expected both attempts in history")
	}
	if !strings.Contains(body, "VALIDATION_ERROR") {
		t.Error("expected error code of the rejected attempt")
	}
}

func TestHandleHistory_StatusFilterJSON(t *testing.T) {
	h := setupTest(t)
	extend(t, h, "name:ping;body:return 'pong'")
	h.rt.Extend(context.Background(), "name:leak;body:import os")

	req := httptest.NewRequest("GET", "/history?status=failed", nil)
	req.Header.Set("Accept", "application/json")
	rec := get(h.HandleHistory, req)

	var resp ops.HistoryOutput
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Name != "leak" {
		t.Errorf("items = %+v, want only leak", resp.Items)
	}
}

func TestHandleHistory_Empty(t *testing.T) {
	h := setupTest(t)

	rec := get(h.HandleHistory, httptest.NewRequest("GET", "/history", nil))
	if !strings.Contains(rec.Body.String(), "No extension records found") {
		t.Error("expected empty state message")
	}
}

func TestHandleHistory_InvalidStatus(t *testing.T) {
	h := setupTest(t)

	rec := get(h.HandleHistory, httptest.NewRequest("GET", "/history?status=pending", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleHistory_NoLedger(t *testing.T) {
	h := newHandlers(t, t.TempDir(), nil)

	rec := get(h.HandleHistory, httptest.NewRequest("GET", "/history", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleRecord(t *testing.T) {
	h := setupTest(t)
	out := extend(t, h, "name:ping;body:return 'pong'")

	req := httptest.NewRequest("GET", "/history/"+out.ID, nil)
	req.SetPathValue("id", out.ID)
	rec := get(h.HandleRecord, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, out.ID) {
		t.Error("expected record id")
	}
	if !strings.Contains(body, "def ping(") {
		t.Error("expected synthesized source")
	}
}

func TestHandleRecord_NotFound(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/history/01MISSING", nil)
	req.SetPathValue("id", "01MISSING")
	rec := get(h.HandleRecord, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// --- HandleArtifact ---

func TestHandleArtifact(t *testing.T) {
	h := setupTest(t)
	extend(t, h, "name:ping;body:return 'pong'")

	rec := get(h.HandleArtifact, httptest.NewRequest("GET", "/artifact", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `href="/tools/ping"`) {
		t.Error("expected definition link")
	}
	if !strings.Contains(body, "return &#39;pong&#39;") {
		t.Error("expected escaped artifact text")
	}
}

func TestHandleArtifact_Raw(t *testing.T) {
	h := setupTest(t)
	extend(t, h, "name:ping;body:return 'pong'")

	rec := get(h.HandleArtifact, httptest.NewRequest("GET", "/artifact?raw=true", nil))
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
	if !strings.Contains(rec.Body.String(), "return 'pong'") {
		t.Error("expected raw artifact text")
	}
}

func TestHandleArtifact_JSONAfterReset(t *testing.T) {
	h := setupTest(t)
	extend(t, h, "name:ping;body:return 'pong'")
	h.rt.Reset(context.Background())

	req := httptest.NewRequest("GET", "/artifact", nil)
	req.Header.Set("Accept", "application/json")
	rec := get(h.HandleArtifact, req)

	var resp struct {
		Definitions []string `json:"definitions"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if len(resp.Definitions) != 0 {
		t.Errorf("definitions = %v, want none after reset", resp.Definitions)
	}
}

// --- Error rendering ---

func TestErrorRendering_HtmxFragment(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/tools/nope", nil)
	req.SetPathValue("name", "nope")
	req.Header.Set("HX-Request", "true")
	rec := get(h.HandleTool, req)

	body := rec.Body.String()
	if !strings.Contains(body, `class="error-message"`) {
		t.Error("expected error-message div in HTMX error")
	}
	if strings.Contains(body, "<!DOCTYPE html>") {
		t.Error("HTMX error should not include full page")
	}
}

func TestErrorRendering_JSONError(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/tools/nope", nil)
	req.SetPathValue("name", "nope")
	req.Header.Set("Accept", "application/json")
	rec := get(h.HandleTool, req)

	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	errObj, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatal("expected error object in JSON response")
	}
	if errObj["code"] != "NOT_FOUND" {
		t.Errorf("error code = %v, want NOT_FOUND", errObj["code"])
	}
}

func TestErrorRendering_FullErrorPage(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/tools/nope", nil)
	req.SetPathValue("name", "nope")
	rec := get(h.HandleTool, req)

	body := rec.Body.String()
	if !strings.Contains(body, "<!DOCTYPE html>") {
		t.Error("expected full error page")
	}
	if !strings.Contains(body, "Error 404") {
		t.Error("expected status in error page title")
	}
}

// --- Server ---

func TestServer_RoutesAndHeaders(t *testing.T) {
	tmpDir := t.TempDir()
	h := newHandlers(t, tmpDir, nil)

	srv, err := NewServer(h.rt, nil, "test", "127.0.0.1", 0, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/tools" {
		t.Errorf("GET / = %d %q, want redirect to /tools", rec.Code, rec.Header().Get("Location"))
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("expected security headers")
	}

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/static/style.css", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /static/style.css = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("POST", "/tools", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /tools = %d, want 405", rec.Code)
	}
}

// --- Helpers ---

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 20},
		{"limit=5", 5},
		{"limit=abc", 20},
		{"limit=-1", -1},
	}

	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/?"+tt.query, nil)
		if got := parseIntParam(req, "limit", 20); got != tt.want {
			t.Errorf("parseIntParam(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}

func TestSummary(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"one line", "one line"},
		{"  first\nsecond", "first"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := summary(tt.in); got != tt.want {
			t.Errorf("summary(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("01ARZ3NDEKTSV4RRFFQ69G5FAV"); got != "01ARZ3NDEK..." {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("short"); got != "short" {
		t.Errorf("shortID = %q", got)
	}
}
