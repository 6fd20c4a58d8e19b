package handlers

import (
	"errors"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"github.com/shibob53/webook-scraper/models"
	"github.com/shibob53/webook-scraper/services"
)

// CrawlerHandler exposes the engine's run-state controls to the dashboard.
type CrawlerHandler struct {
	engine *services.Engine
}

func NewCrawlerHandler(engine *services.Engine) *CrawlerHandler {
	return &CrawlerHandler{engine: engine}
}

// Start begins a fresh acquisition run.
func (h *CrawlerHandler) Start(e *core.RequestEvent) error {
	if err := h.engine.Start(e.Request.Context()); err != nil {
		return stateError("Failed to start", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"message": "Crawler started"})
}

// Stop halts the running engine and tears down its browsing contexts.
func (h *CrawlerHandler) Stop(e *core.RequestEvent) error {
	if err := h.engine.Stop(e.Request.Context()); err != nil {
		return stateError("Failed to stop", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"message": "Crawler stopped"})
}

// Resume continues a stopped run from where it left off.
func (h *CrawlerHandler) Resume(e *core.RequestEvent) error {
	if err := h.engine.Resume(e.Request.Context()); err != nil {
		return stateError("Failed to resume", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"message": "Crawler resumed"})
}

// Reset discards all progress and starts the run over.
func (h *CrawlerHandler) Reset(e *core.RequestEvent) error {
	if err := h.engine.Reset(e.Request.Context()); err != nil {
		return stateError("Failed to reset", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"message": "Crawler reset"})
}

// Status reports the current run snapshot.
func (h *CrawlerHandler) Status(e *core.RequestEvent) error {
	return e.JSON(http.StatusOK, h.engine.CurrentStatus())
}

// stateError maps illegal run-state transitions to 400s and everything else
// to 500s.
func stateError(message string, err error) error {
	if errors.Is(err, models.ErrInvalidTransition) {
		return apis.NewBadRequestError(message+": "+err.Error(), err)
	}
	return apis.NewApiError(http.StatusInternalServerError, message+": "+err.Error(), err)
}
