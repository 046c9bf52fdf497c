package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/covera-ai/covera/internal/store"
)

type ConversationsHandler struct {
	Store *store.Store
}

func (h *ConversationsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(withAuth(secret))
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.PUT("/:id", h.rename)
	g.DELETE("/:id", h.remove)
	g.GET("/:id/messages", h.messages)
}

func (h *ConversationsHandler) create(c echo.Context) error {
	var req ConversationCreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	title := req.Title
	if title == "" {
		title = "New conversation"
	}
	id := uuid.NewString()
	if err := h.Store.CreateConversation(c.Request().Context(), id, userID(c), title); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id, "title": title})
}

func (h *ConversationsHandler) list(c echo.Context) error {
	convs, err := h.Store.ListConversations(c.Request().Context(), userID(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]ConversationResponse, 0, len(convs))
	for _, cv := range convs {
		out = append(out, toConversationResponse(cv))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ConversationsHandler) get(c echo.Context) error {
	cv, err := h.Store.GetConversation(c.Request().Context(), c.Param("id"), userID(c))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, toConversationResponse(*cv))
}

func (h *ConversationsHandler) rename(c echo.Context) error {
	var req ConversationRenameRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.Store.RenameConversation(c.Request().Context(), c.Param("id"), userID(c), req.Title); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func (h *ConversationsHandler) remove(c echo.Context) error {
	if err := h.Store.DeleteConversation(c.Request().Context(), c.Param("id"), userID(c)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func (h *ConversationsHandler) messages(c echo.Context) error {
	ctx := c.Request().Context()
	if _, err := h.Store.GetConversation(ctx, c.Param("id"), userID(c)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	msgs, err := h.Store.ListMessages(ctx, c.Param("id"), 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		// tool plumbing stays internal to the chat loop
		if m.Role == "tool" || (m.Role == "assistant" && m.Content == "") {
			continue
		}
		out = append(out, MessageResponse{ID: m.ID, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt})
	}
	return c.JSON(http.StatusOK, out)
}

func toConversationResponse(cv store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:         cv.ID,
		Title:      cv.Title,
		TokenCount: cv.TokenCount,
		CreatedAt:  cv.CreatedAt,
		UpdatedAt:  cv.UpdatedAt,
	}
}
