package api

import (
	_ "embed"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
)

//go:embed static/index.html
var indexHTML []byte

// Home serves the single-page UI and ensures the caller has a session.
// GET /
func (h *Handler) Home(c echo.Context) error {
	if _, _, err := h.resolveSession(c); err != nil {
		log.Printf("ERROR: failed to resolve session: %v", err)
	}
	return c.HTMLBlob(http.StatusOK, indexHTML)
}
