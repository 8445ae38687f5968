package web

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/hpungsan/lichen/internal/errors"
	"github.com/hpungsan/lichen/internal/module"
	"github.com/hpungsan/lichen/internal/ops"
	"github.com/hpungsan/lichen/internal/registry"
)

// Handlers contains HTTP route handlers for the inspector.
type Handlers struct {
	rt       *ops.Runtime
	db       *sql.DB
	renderer *Renderer
}

// HandleTools handles GET /tools: every registered tool, sorted by name.
func (h *Handlers) HandleTools(w http.ResponseWriter, r *http.Request) {
	records := h.rt.Tools()

	if wantsJSON(r) {
		type toolJSON struct {
			Name        string        `json:"name"`
			Kind        registry.Kind `json:"kind"`
			Description string        `json:"description"`
		}
		out := make([]toolJSON, len(records))
		for i, rec := range records {
			out[i] = toolJSON{Name: rec.Name, Kind: rec.Kind, Description: rec.Description}
		}
		renderJSON(w, http.StatusOK, map[string]any{"tools": out})
		return
	}

	rows := make([]ToolRow, len(records))
	generated := 0
	for i, rec := range records {
		rows[i] = ToolRow{Name: rec.Name, Kind: rec.Kind, Summary: summary(rec.Description)}
		if rec.Kind == registry.KindGenerated {
			generated++
		}
	}

	h.renderer.renderPage(w, r, "tools", ToolsPageData{
		PageData: PageData{
			Title:   "Tools",
			Version: h.renderer.version,
			Nav:     "tools",
		},
		Tools:     rows,
		Generated: generated,
	})
}

// HandleTool handles GET /tools/{name}: description and, for generated
// tools, the definition as it appears in the artifact.
func (h *Handlers) HandleTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("tool name is required"))
		return
	}

	rec, ok := h.rt.Registry().Get(name)
	if !ok {
		h.renderer.renderError(w, r, errors.NewNotFound(name))
		return
	}

	var source string
	var hasSource bool
	if rec.Kind == registry.KindGenerated {
		source, hasSource = h.rt.Source(name)
	}

	if wantsJSON(r) {
		out := map[string]any{
			"name":        rec.Name,
			"kind":        rec.Kind,
			"description": rec.Description,
		}
		if hasSource {
			out["source"] = source
		}
		renderJSON(w, http.StatusOK, out)
		return
	}

	h.renderer.renderPage(w, r, "tool", ToolPageData{
		PageData: PageData{
			Title:   rec.Name,
			Version: h.renderer.version,
			Nav:     "tools",
		},
		Tool:        rec,
		RenderedDoc: renderMarkdown(rec.Description),
		Source:      source,
		HasSource:   hasSource,
	})
}

// HandleHistory handles GET /history: the extension ledger, newest first.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("extension ledger is not available"))
		return
	}

	input := ops.HistoryInput{
		Name:   r.URL.Query().Get("name"),
		Status: r.URL.Query().Get("status"),
		Limit:  parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset: parseIntParam(r, "offset", 0),
	}

	result, err := ops.History(r.Context(), h.db, input)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	h.renderer.renderPage(w, r, "history", HistoryPageData{
		PageData: PageData{
			Title:   "History",
			Version: h.renderer.version,
			Nav:     "history",
		},
		Items:      result.Items,
		Pagination: result.Pagination,
		Name:       input.Name,
		Status:     input.Status,
	})
}

// HandleRecord handles GET /history/{id}: one ledger record with its
// synthesized source.
func (h *Handlers) HandleRecord(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("extension ledger is not available"))
		return
	}

	rec, err := ops.FetchRecord(r.Context(), h.db, r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, rec)
		return
	}

	h.renderer.renderPage(w, r, "record", RecordPageData{
		PageData: PageData{
			Title:   rec.Name + " " + shortID(rec.ID),
			Version: h.renderer.version,
			Nav:     "history",
		},
		Record: rec,
	})
}

// HandleArtifact handles GET /artifact: the capability artifact as loaded.
func (h *Handlers) HandleArtifact(w http.ResponseWriter, r *http.Request) {
	text, err := h.rt.Artifact()
	if err != nil && !errors.Is(err, errors.ErrFileNotFound) {
		h.renderer.renderError(w, r, err)
		return
	}

	defs := module.Defined(text)
	if defs == nil {
		defs = []string{}
	}

	if r.URL.Query().Get("raw") == "true" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(text))
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{
			"path":        h.rt.Store().Path(),
			"bytes":       len(text),
			"definitions": defs,
		})
		return
	}

	h.renderer.renderPage(w, r, "artifact", ArtifactPageData{
		PageData: PageData{
			Title:   "Artifact",
			Version: h.renderer.version,
			Nav:     "artifact",
		},
		Path:        h.rt.Store().Path(),
		Text:        text,
		Definitions: defs,
		Bytes:       len(text),
	})
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
