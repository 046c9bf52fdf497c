package tools

import (
	"context"
	"encoding/json"
	"log"

	openai "github.com/sashabaranov/go-openai"

	"github.com/covera-ai/covera/internal/telemetry"
)

// Call carries the identity context a tool invocation runs under.
type Call struct {
	UserID         string
	ConversationID string
	Args           json.RawMessage
}

// Handler executes one tool call. Returning an error produces a structured
// {success:false, error} payload; it never propagates past the dispatch
// boundary because the orchestrating model is expected to relay failures
// conversationally.
type Handler func(ctx context.Context, call Call) (any, error)

// Tool pairs a function-calling schema with its handler.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Handler     Handler
}

// Registry holds the tool set exposed to the model.
type Registry struct {
	tools map[string]Tool
	order []string
	tel   *telemetry.Telemetry
	log   *log.Logger
}

func NewRegistry(tel *telemetry.Telemetry, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(log.Writer(), "[TOOLS] ", log.LstdFlags)
	}
	return &Registry{
		tools: make(map[string]Tool),
		tel:   tel,
		log:   logger,
	}
}

func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Definitions renders the tool set in the wire format the chat completion
// API expects, in registration order.
func (r *Registry) Definitions() []openai.Tool {
	out := make([]openai.Tool, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// Dispatch runs the named tool and always returns a JSON payload. Unknown
// tools and handler failures come back as {success:false, error}.
func (r *Registry) Dispatch(ctx context.Context, name string, call Call) json.RawMessage {
	t, ok := r.tools[name]
	if !ok {
		r.log.Printf("unknown tool %q", name)
		return errPayload("unknown tool: " + name)
	}
	result, err := t.Handler(ctx, call)
	if err != nil {
		r.log.Printf("tool %s failed: %v", name, err)
		if r.tel != nil {
			r.tel.RecordToolCall(name, false)
		}
		return errPayload(err.Error())
	}
	if r.tel != nil {
		r.tel.RecordToolCall(name, true)
	}
	raw, err := json.Marshal(result)
	if err != nil {
		r.log.Printf("tool %s: encode result: %v", name, err)
		return errPayload("internal error encoding tool result")
	}
	return raw
}

func errPayload(msg string) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{"success": false, "error": msg})
	return raw
}
