// Package mcp publishes the runtime's tool registry over the Model Context
// Protocol. Registry changes are mirrored into the server's tool list, which
// makes the server emit tools/list_changed.
package mcp

import (
	"database/sql"
	"log/slog"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/lichen/internal/config"
	"github.com/hpungsan/lichen/internal/ops"
	"github.com/hpungsan/lichen/internal/registry"
)

// Administrative tool names.
const (
	ToolReset   = "reset_capabilities"
	ToolHistory = "extension_history"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// adminTools are published alongside the registry and shadow registry
// records of the same name.
var adminTools = map[string]toolEntry{
	ToolReset: {
		def: mcp.NewToolWithRawSchema(ToolReset,
			"Restores the capability set to the baseline: every generated tool is removed.",
			inputSchema[ResetRequest]()),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleReset },
	},
	ToolHistory: {
		def: mcp.NewToolWithRawSchema(ToolHistory,
			"Lists recorded extension attempts, newest first, with their stage, result and synthesized source.",
			inputSchema[HistoryRequest]()),
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistory },
	},
}

// AdminToolNames returns the administrative tool names, sorted.
func AdminToolNames() []string {
	names := make([]string, 0, len(adminTools))
	for name := range adminTools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns the names that match neither an
// administrative tool nor a record in reg. Generated tools that do not exist
// yet are reported too.
func ValidateDisabledTools(names []string, reg *registry.Registry) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := adminTools[name]; ok {
			continue
		}
		if reg != nil {
			if _, ok := reg.Get(name); ok {
				continue
			}
		}
		unknown = append(unknown, name)
	}
	return unknown
}

// toolSync mirrors registry contents into the server's tool list.
type toolSync struct {
	mu        sync.Mutex
	srv       *server.MCPServer
	reg       *registry.Registry
	h         *Handlers
	disabled  map[string]bool
	published map[string]bool
	logger    *slog.Logger
}

func (s *toolSync) apply() {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[string]bool)
	for _, rec := range s.reg.List() {
		if s.disabled[rec.Name] {
			continue
		}
		if _, ok := adminTools[rec.Name]; ok {
			continue
		}
		current[rec.Name] = true
		if s.published[rec.Name] {
			continue
		}
		s.srv.AddTool(toolDef(rec), s.h.HandleTool(rec.Name))
		s.published[rec.Name] = true
		s.logger.Debug("tool published", "tool", rec.Name, "kind", rec.Kind)
	}

	var removed []string
	for name := range s.published {
		if !current[name] {
			removed = append(removed, name)
		}
	}
	if len(removed) > 0 {
		sort.Strings(removed)
		s.srv.DeleteTools(removed...)
		for _, name := range removed {
			delete(s.published, name)
		}
		s.logger.Debug("tools withdrawn", "tools", removed)
	}
}

func toolDef(rec registry.ToolRecord) mcp.Tool {
	return mcp.NewToolWithRawSchema(rec.Name, rec.Description, inputSchema[ToolInput]())
}

// NewServer creates an MCP server publishing rt's registry plus the
// administrative tools. Tools listed in cfg.DisabledTools are never published.
func NewServer(rt *ops.Runtime, db *sql.DB, cfg *config.Config, version string, logger *slog.Logger) *server.MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = rt.Config()
	}

	s := server.NewMCPServer(
		"lichen",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	h := NewHandlers(rt, db)

	disabled := make(map[string]bool)
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range adminTools {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	ts := &toolSync{
		srv:       s,
		reg:       rt.Registry(),
		h:         h,
		disabled:  disabled,
		published: make(map[string]bool),
		logger:    logger,
	}
	ts.apply()
	rt.Registry().Subscribe(ts.apply)

	return s
}

// Run starts the MCP server using stdio transport.
func Run(rt *ops.Runtime, db *sql.DB, cfg *config.Config, version string, logger *slog.Logger) error {
	return server.ServeStdio(NewServer(rt, db, cfg, version, logger))
}
