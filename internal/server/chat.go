package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	openai "github.com/sashabaranov/go-openai"

	"github.com/covera-ai/covera/config"
	"github.com/covera-ai/covera/internal/llm"
	"github.com/covera-ai/covera/internal/profile"
	"github.com/covera-ai/covera/internal/store"
	"github.com/covera-ai/covera/internal/telemetry"
	"github.com/covera-ai/covera/internal/tools"
)

// ChatHandler runs one conversational turn: it streams the model's answer
// over SSE and executes any tool calls the model makes along the way.
type ChatHandler struct {
	Store     *store.Store
	LLM       llm.Provider
	Registry  *tools.Registry
	Model     string
	Chat      config.ChatConfig
	Telemetry *telemetry.Telemetry
	Logger    *log.Logger
}

func (h *ChatHandler) Register(g *echo.Group, secret []byte) {
	g.Use(withAuth(secret))
	g.POST("/:id/chat", h.chat)
}

func (h *ChatHandler) chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	uid := userID(c)
	convID := c.Param("id")

	cv, err := h.Store.GetConversation(ctx, convID, uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	// Hard stop: once a conversation crosses the token ceiling no further
	// turns are accepted, with or without room left in this request.
	if cv.TokenCount >= h.Chat.TokenLimit {
		return c.JSON(http.StatusForbidden, map[string]any{
			"error":      "token_limit_reached",
			"message":    "Token limit reached for this conversation. Please start a new conversation to continue.",
			"tokenCount": cv.TokenCount,
			"tokenLimit": h.Chat.TokenLimit,
		})
	}

	if err := h.Store.InsertMessage(ctx, store.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		Role:           openai.ChatMessageRoleUser,
		Content:        req.Message,
	}); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	messages, err := h.contextMessages(c, uid, convID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	// Everything past this point streams; errors become SSE events.
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	started := time.Now()
	var promptTokens, completionTokens int64
	defs := h.Registry.Definitions()

	for step := 0; ; step++ {
		if step >= h.Chat.MaxToolSteps {
			h.Logger.Printf("conversation %s: tool step limit (%d) reached", convID, h.Chat.MaxToolSteps)
			h.sse(c, "error", map[string]string{"error": "tool step limit reached"})
			break
		}

		text, toolCalls, usage, err := h.streamOnce(c, messages, defs)
		if usage != nil {
			promptTokens += int64(usage.PromptTokens)
			completionTokens += int64(usage.CompletionTokens)
		}
		if err != nil {
			h.Logger.Printf("conversation %s: stream failed: %v", convID, err)
			h.sse(c, "error", map[string]string{"error": "the assistant is unavailable right now"})
			break
		}

		if len(toolCalls) == 0 {
			if err := h.Store.InsertMessage(ctx, store.Message{
				ID:             uuid.NewString(),
				ConversationID: convID,
				Role:           openai.ChatMessageRoleAssistant,
				Content:        text,
			}); err != nil {
				h.Logger.Printf("conversation %s: persist assistant message: %v", convID, err)
			}
			break
		}

		rawCalls, _ := json.Marshal(toolCalls)
		if err := h.Store.InsertMessage(ctx, store.Message{
			ID:             uuid.NewString(),
			ConversationID: convID,
			Role:           openai.ChatMessageRoleAssistant,
			Content:        text,
			ToolCalls:      rawCalls,
		}); err != nil {
			h.Logger.Printf("conversation %s: persist tool request: %v", convID, err)
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   text,
			ToolCalls: toolCalls,
		})

		for _, tc := range toolCalls {
			h.sse(c, "tool", map[string]string{"name": tc.Function.Name})
			result := h.Registry.Dispatch(ctx, tc.Function.Name, tools.Call{
				UserID:         uid,
				ConversationID: convID,
				Args:           json.RawMessage(tc.Function.Arguments),
			})
			if err := h.Store.InsertMessage(ctx, store.Message{
				ID:             uuid.NewString(),
				ConversationID: convID,
				Role:           openai.ChatMessageRoleTool,
				Content:        string(result),
				ToolCallID:     tc.ID,
			}); err != nil {
				h.Logger.Printf("conversation %s: persist tool result: %v", convID, err)
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    string(result),
				ToolCallID: tc.ID,
			})
		}
	}

	total, err := h.Store.AddTokens(ctx, convID, promptTokens+completionTokens)
	if err != nil {
		h.Logger.Printf("conversation %s: record token usage: %v", convID, err)
		total = cv.TokenCount + promptTokens + completionTokens
	}
	if h.Telemetry != nil {
		h.Telemetry.RecordChatTurn(time.Since(started).Seconds())
		cost, _ := h.LLM.CalculateCost(h.Model, promptTokens, completionTokens)
		h.Telemetry.RecordLLMUsage(h.Model, "chat", promptTokens, completionTokens, cost)
	}
	h.sse(c, "done", map[string]any{
		"tokenCount": total,
		"tokenLimit": h.Chat.TokenLimit,
	})
	return nil
}

// streamOnce consumes a single streaming completion, forwarding content
// deltas as SSE events and accumulating tool-call fragments by index.
func (h *ChatHandler) streamOnce(c echo.Context, messages []openai.ChatCompletionMessage, defs []openai.Tool) (string, []openai.ToolCall, *openai.Usage, error) {
	stream, err := h.LLM.ChatStream(c.Request().Context(), h.Model, messages, defs)
	if err != nil {
		return "", nil, nil, err
	}
	defer stream.Close()

	var text strings.Builder
	var calls []openai.ToolCall
	var usage *openai.Usage
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return text.String(), calls, usage, err
		}
		if resp.Usage != nil {
			usage = resp.Usage
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			text.WriteString(delta.Content)
			h.sse(c, "delta", map[string]string{"content": delta.Content})
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			for len(calls) <= idx {
				calls = append(calls, openai.ToolCall{Type: openai.ToolTypeFunction})
			}
			if tc.ID != "" {
				calls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				calls[idx].Function.Name = tc.Function.Name
			}
			calls[idx].Function.Arguments += tc.Function.Arguments
		}
	}
	return text.String(), calls, usage, nil
}

// contextMessages assembles the system prompt plus the replayed tail of the
// conversation, which already includes the just-inserted user message.
func (h *ChatHandler) contextMessages(c echo.Context, uid, convID string) ([]openai.ChatCompletionMessage, error) {
	ctx := c.Request().Context()
	p, err := h.Store.GetProfile(ctx, uid)
	if err != nil && !errors.Is(err, profile.ErrProfileNotFound) {
		return nil, err
	}
	out := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(p, time.Now())},
	}

	history, err := h.Store.ListMessages(ctx, convID, h.Chat.HistoryLimit)
	if err != nil {
		return nil, err
	}
	for _, m := range history {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		if len(m.ToolCalls) > 0 && string(m.ToolCalls) != "[]" {
			if err := json.Unmarshal(m.ToolCalls, &msg.ToolCalls); err != nil {
				h.Logger.Printf("conversation %s: decode stored tool calls: %v", convID, err)
				continue
			}
		}
		out = append(out, msg)
	}
	return out, nil
}

func (h *ChatHandler) sse(c echo.Context, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", event, data)
	c.Response().Flush()
}

func systemPrompt(p *profile.Profile, now time.Time) string {
	var b strings.Builder
	b.WriteString("You are Covera, a life-insurance advisor. Be concise, factual and never invent policy details.\n")
	b.WriteString("Use the provided tools to read and update the user's profile, manage their health issues, run deep research, search the web, evaluate calculations and generate quotes.\n")
	b.WriteString("When updateUserProfile reports requiresConfirmation, relay its autoConfirmationPrompt to the user verbatim and wait for their answer; then call handleConfirmationResponse with their decision.\n")
	b.WriteString("Deep research runs in four ordered phases: deepResearchInit, deepResearchLevel1, deepResearchLevel2, deepResearchSynthesize.\n\n")

	if p == nil {
		b.WriteString("The user has no profile yet. Collect their details conversationally and save them with updateUserProfile.")
		return b.String()
	}
	b.WriteString("Known profile fields (unlisted fields are not on record):\n")
	if p.DOB != nil {
		age, _ := p.Age(now)
		fmt.Fprintf(&b, "- date of birth: %s (age %d)\n", p.DOB.Format("2006-01-02"), age)
	}
	if p.Gender != nil {
		fmt.Fprintf(&b, "- gender: %s\n", *p.Gender)
	}
	if p.IsMarried != nil {
		fmt.Fprintf(&b, "- marital status: %t\n", *p.IsMarried)
	}
	if p.AnnualIncome != nil {
		fmt.Fprintf(&b, "- annual income: %.0f\n", *p.AnnualIncome)
	}
	if p.City != nil {
		fmt.Fprintf(&b, "- city: %s\n", *p.City)
	}
	if p.Occupation != nil {
		fmt.Fprintf(&b, "- occupation: %s\n", *p.Occupation)
	}
	if p.SmokingStatus != nil {
		fmt.Fprintf(&b, "- smoker: %t\n", *p.SmokingStatus)
	}
	if p.CoverageAmount != nil {
		fmt.Fprintf(&b, "- desired coverage: %.0f\n", *p.CoverageAmount)
	}
	if p.PolicyTerm != nil {
		fmt.Fprintf(&b, "- policy term: %d years\n", *p.PolicyTerm)
	}
	if p.HasIssues {
		fmt.Fprintf(&b, "- health issues: %s\n", strings.Join(p.Issues, ", "))
	}
	return b.String()
}
