// Package api provides HTTP handlers for the analysis service.
package api

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medgaze/medgaze/analysis"
	"github.com/medgaze/medgaze/config"
	"github.com/medgaze/medgaze/domain"
	"github.com/medgaze/medgaze/policy"
	"github.com/medgaze/medgaze/report"
	"github.com/medgaze/medgaze/session"
	"github.com/medgaze/medgaze/store"
)

// Handler handles HTTP requests.
type Handler struct {
	sessions     *session.Store
	orchestrator *analysis.Orchestrator
	policyEngine *policy.Engine
	trace        store.TraceStore
	config       *config.Config
}

// NewHandler creates a new handler.
func NewHandler(sessions *session.Store, orchestrator *analysis.Orchestrator, policyEngine *policy.Engine, trace store.TraceStore, cfg *config.Config) *Handler {
	return &Handler{
		sessions:     sessions,
		orchestrator: orchestrator,
		policyEngine: policyEngine,
		trace:        trace,
		config:       cfg,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Home)
	e.POST("/analyze", h.Analyze)
	e.POST("/reset", h.Reset)
	e.GET("/health", h.Health)

	e.POST("/v1/extract", h.Extract)
	e.GET("/v1/trace", h.Trace)
}

// errorBody is the stable error envelope: a machine-checkable kind plus a
// human-readable message.
type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func errJSON(c echo.Context, status int, kind domain.Kind, message string) error {
	return c.JSON(status, errorResponse{Error: errorBody{Kind: string(kind), Message: message}})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation, domain.KindImageProcessing:
		return http.StatusBadRequest
	case domain.KindSessionBusy:
		return http.StatusTooManyRequests
	case domain.KindModelCall:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func coreError(c echo.Context, err error) error {
	kind := domain.KindOf(err)
	msg := "internal error"
	var de *domain.Error
	if errors.As(err, &de) {
		msg = de.Message
	}
	if kind == domain.KindInternal {
		log.Printf("ERROR: unclassified failure: %v", err)
		msg = "internal error"
	}
	return errJSON(c, statusFor(kind), kind, msg)
}

// Analyze handles one conversation turn.
// POST /analyze (multipart form: query, optional image_file)
func (h *Handler) Analyze(c echo.Context) error {
	sess, conv, err := h.resolveSession(c)
	if err != nil {
		log.Printf("ERROR: failed to resolve session: %v", err)
		return errJSON(c, http.StatusInternalServerError, domain.KindInternal, "internal error")
	}

	query := c.FormValue("query")

	var imageData []byte
	var mediaType string
	if file, err := c.FormFile("image_file"); err == nil && file != nil {
		src, err := file.Open()
		if err != nil {
			return errJSON(c, http.StatusBadRequest, domain.KindValidation, "image_file could not be read")
		}
		imageData, err = io.ReadAll(io.LimitReader(src, h.config.MaxUploadBytes+1))
		src.Close()
		if err != nil {
			return errJSON(c, http.StatusBadRequest, domain.KindValidation, "image_file could not be read")
		}
		mediaType = file.Header.Get("Content-Type")
		if mediaType == "" {
			mediaType = "image/jpeg"
		}
	}

	decision, err := h.policyEngine.Evaluate(c.Request().Context(), policy.Input{
		QueryChars:    len(query),
		ImageBytes:    len(imageData),
		MaxImageBytes: h.config.MaxUploadBytes,
		MediaType:     mediaType,
		HasAttachment: len(imageData) > 0,
	})
	if err != nil {
		log.Printf("ERROR: policy evaluation failed: %v", err)
		return errJSON(c, http.StatusInternalServerError, domain.KindInternal, "internal error")
	}
	if !decision.Allow {
		return errJSON(c, http.StatusBadRequest, domain.KindValidation, decision.Reason)
	}

	result, err := h.orchestrator.RunTurn(c.Request().Context(), sess, conv, domain.TurnRequest{
		Query:          query,
		Image:          imageData,
		ImageMediaType: mediaType,
	})
	if err != nil {
		return coreError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"answer": result.Answer,
		"turns":  result.Turns,
	})
}

// Reset drops the caller's session and issues a fresh credential.
// POST /reset
func (h *Handler) Reset(c echo.Context) error {
	old := credential(c)
	sess, _, err := h.sessions.Reset(old)
	if err != nil {
		log.Printf("ERROR: failed to reset session: %v", err)
		return errJSON(c, http.StatusInternalServerError, domain.KindInternal, "internal error")
	}
	h.setCredential(c, sess.SessionID)

	// Close out the dropped session's trace. Best effort, like all tracing.
	if old != "" {
		ev := &domain.Event{
			EventID:   "evt_" + uuid.New().String()[:8],
			SessionID: old,
			Ts:        time.Now().UnixMilli(),
			Type:      domain.EventTypeSessionReset,
		}
		if err := h.trace.RecordEvent(c.Request().Context(), ev); err != nil {
			log.Printf("WARN: failed to record session_reset event: %v", err)
		}
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "reset"})
}

// Health returns health status.
// GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// extractRequest is the body of POST /v1/extract.
type extractRequest struct {
	Text string `json:"text"`
}

// Extract recovers structured findings from JSON-shaped model output.
// POST /v1/extract
func (h *Handler) Extract(c echo.Context) error {
	var req extractRequest
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, domain.KindValidation, "invalid request body")
	}
	if req.Text == "" {
		return errJSON(c, http.StatusBadRequest, domain.KindValidation, "text is required")
	}

	rep := report.Extract(req.Text)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"report": rep.Render(),
		"fields": rep,
	})
}

// Trace returns the caller's session trace events.
// GET /v1/trace
func (h *Handler) Trace(c echo.Context) error {
	sess, _, err := h.resolveSession(c)
	if err != nil {
		log.Printf("ERROR: failed to resolve session: %v", err)
		return errJSON(c, http.StatusInternalServerError, domain.KindInternal, "internal error")
	}

	afterTs, _ := strconv.ParseInt(c.QueryParam("after_ts"), 10, 64)
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	events, err := h.trace.GetEvents(c.Request().Context(), sess.SessionID, afterTs, limit)
	if err != nil {
		log.Printf("ERROR: failed to get trace events: %v", err)
		return errJSON(c, http.StatusInternalServerError, domain.KindInternal, "failed to get trace events")
	}
	if events == nil {
		events = []domain.Event{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"events": events})
}
