package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/covera-ai/covera/internal/profile"
	"github.com/covera-ai/covera/internal/store"
)

// ProfileHandler serves the REST read-through of the advisory profile; the
// chat model uses the getUserProfile tool for the same data.
type ProfileHandler struct {
	Store *store.Store
}

func (h *ProfileHandler) Register(g *echo.Group, secret []byte) {
	g.Use(withAuth(secret))
	g.GET("", h.get)
}

func (h *ProfileHandler) get(c echo.Context) error {
	ctx := c.Request().Context()
	uid := userID(c)
	p, err := h.Store.GetProfile(ctx, uid)
	if err != nil {
		if errors.Is(err, profile.ErrProfileNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "profile not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	u, err := h.Store.GetUserByID(ctx, uid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	out := map[string]any{
		"firstName": u.FirstName,
		"lastName":  u.LastName,
		"profile":   p,
	}
	if age, ok := p.Age(time.Now()); ok {
		out["age"] = age
	}
	return c.JSON(http.StatusOK, out)
}
