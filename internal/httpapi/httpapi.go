package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	errx "github.com/personacast/server/internal/core/error"
	"github.com/personacast/server/internal/gateway"
	"github.com/personacast/server/internal/persona"
	"github.com/personacast/server/internal/retrieval"
	logx "github.com/personacast/server/pkg/logger"
)

// Handlers exposes the gateway over HTTP for the chat endpoint. It is a
// thin translation layer: all policy lives in the gateway and below.
type Handlers struct {
	gateway   *gateway.Gateway
	personas  *persona.Registry
	knowledge retrieval.Backend
	web       retrieval.Backend
}

// NewHandlers wires the HTTP layer. The backend references are only used
// for availability reporting on the health endpoint.
func NewHandlers(gw *gateway.Gateway, registry *persona.Registry, knowledge, web retrieval.Backend) *Handlers {
	return &Handlers{gateway: gw, personas: registry, knowledge: knowledge, web: web}
}

// Router builds the gin engine with all routes registered.
func (h *Handlers) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", h.health)

	v1 := r.Group("/v1")
	v1.POST("/turns", h.handleTurn)
	v1.GET("/personas", h.listPersonas)
	v1.POST("/personas/:id/reload", h.reloadPersona)

	return r
}

type turnRequest struct {
	UserID    string `json:"user_id"`
	PersonaID string `json:"persona_id" binding:"required"`
	Query     string `json:"query" binding:"required"`
}

type turnResponse struct {
	Status    string        `json:"status"`
	UserID    string        `json:"user_id"`
	Remaining int           `json:"remaining"`
	Persona   *persona.Spec `json:"persona,omitempty"`
	Context   string        `json:"context,omitempty"`
}

func (h *Handlers) handleTurn(c *gin.Context) {
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "persona_id and query are required"})
		return
	}

	result, err := h.gateway.HandleTurn(c.Request.Context(), req.UserID, req.PersonaID, req.Query)
	if err != nil {
		if errors.Is(err, errx.ErrPersonaNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "persona not found", "persona_id": req.PersonaID})
			return
		}
		logx.Error().Err(err).Msg("Turn handling failed")
		c.JSON(errx.StatusOf(err, http.StatusInternalServerError), gin.H{"error": errx.SystemErrorMessage})
		return
	}

	if result.Status == gateway.StatusRateLimited {
		c.JSON(http.StatusTooManyRequests, turnResponse{
			Status:    string(result.Status),
			UserID:    result.UserID,
			Remaining: 0,
		})
		return
	}

	c.JSON(http.StatusOK, turnResponse{
		Status:    string(result.Status),
		UserID:    result.UserID,
		Remaining: result.Remaining,
		Persona:   result.Persona,
		Context:   result.Context.Render(),
	})
}

func (h *Handlers) listPersonas(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"personas": h.personas.IDs()})
}

func (h *Handlers) reloadPersona(c *gin.Context) {
	id := c.Param("id")

	spec, err := h.personas.Reload(id)
	if err != nil {
		if errors.Is(err, errx.ErrPersonaNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "persona not found", "persona_id": id})
			return
		}
		logx.Error().Err(err).Str("id", id).Msg("Persona reload failed")
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "persona document could not be reloaded"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"persona": spec})
}

func (h *Handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":               "ok",
		"knowledge_available":  h.knowledge != nil && h.knowledge.Available(),
		"web_search_available": h.web != nil && h.web.Available(),
		"personas":             len(h.personas.IDs()),
	})
}
