package mcp

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// ToolInput is the argument object of every registry tool.
type ToolInput struct {
	Input *string `json:"input,omitempty" jsonschema:"description=Optional text argument passed to the tool"`
}

// HistoryRequest represents the arguments for extension_history.
type HistoryRequest struct {
	Name   string `json:"name,omitempty" jsonschema:"description=Only records for this capability name"`
	Status string `json:"status,omitempty" jsonschema:"enum=completed,enum=failed"`
	Limit  int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=100,default=20"`
	Offset int    `json:"offset,omitempty" jsonschema:"minimum=0"`
}

// ResetRequest represents the arguments for reset_capabilities.
type ResetRequest struct{}

// inputSchema reflects T into an inline object schema.
func inputSchema[T any]() json.RawMessage {
	r := jsonschema.Reflector{
		ExpandedStruct:            true,
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	s := r.Reflect(new(T))
	s.Version = ""
	s.ID = ""
	if s.Properties == nil {
		s.Properties = jsonschema.NewProperties()
	}

	b, err := json.Marshal(s)
	if err != nil {
		// Reflected schemas of the request structs above always marshal.
		panic(err)
	}
	return b
}
