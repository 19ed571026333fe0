package gateway

import (
	"context"

	"github.com/google/uuid"

	"github.com/personacast/server/internal/admission"
	errx "github.com/personacast/server/internal/core/error"
	"github.com/personacast/server/internal/persona"
	"github.com/personacast/server/internal/retrieval"
	logx "github.com/personacast/server/pkg/logger"
)

// TurnStatus is the admission outcome of one chat turn.
type TurnStatus string

const (
	StatusAdmitted    TurnStatus = "admitted"
	StatusRateLimited TurnStatus = "rate_limited"
)

// TurnResult is the composed package handed back to the chat endpoint. The
// caller forwards Persona and Context to the language model; the gateway
// itself never invokes the model and never persists anything.
type TurnResult struct {
	Status    TurnStatus
	UserID    string
	Remaining int
	Persona   *persona.Spec
	Context   retrieval.AggregatedContext
}

// Gateway is the façade between an inbound chat turn and the language
// model: admission control, persona resolution, then context aggregation.
type Gateway struct {
	admission *admission.Controller
	personas  *persona.Registry
	retriever *retrieval.Aggregator
}

// New wires the gateway from its three collaborators.
func New(adm *admission.Controller, registry *persona.Registry, agg *retrieval.Aggregator) *Gateway {
	return &Gateway{
		admission: adm,
		personas:  registry,
		retriever: agg,
	}
}

// HandleTurn processes one inbound turn. Only two conditions abort a turn:
// quota rejection (returned as a rate_limited result, not an error) and an
// unknown persona id (returned as errx.ErrPersonaNotFound so the caller can
// pick its own fallback policy). Retrieval failures have already been
// degraded to a smaller context by the aggregator.
func (g *Gateway) HandleTurn(ctx context.Context, userID, personaID, query string) (*TurnResult, error) {
	// The authentication collaborator normally resolves the user; when it
	// supplies nothing we synthesize an anonymous identity so the quota
	// still applies per caller session.
	if userID == "" {
		userID = "anon-" + uuid.NewString()
	}

	decision := g.admission.CheckAndConsume(userID)
	if !decision.Allowed {
		// Short-circuit before any persona or retrieval work: rejected
		// turns must not spend backend budget.
		logx.Debug().Str("user_id", userID).Time("reset_at", decision.ResetAt).Msg("Turn rate-limited")
		return &TurnResult{
			Status:    StatusRateLimited,
			UserID:    userID,
			Remaining: 0,
		}, nil
	}

	spec, ok := g.personas.Get(personaID)
	if !ok {
		return nil, errx.PersonaNotFound(personaID)
	}

	aggregated := g.retriever.Aggregate(ctx, query, retrieval.Hints{
		KnowledgeBases: spec.KnowledgeBases,
	})

	return &TurnResult{
		Status:    StatusAdmitted,
		UserID:    userID,
		Remaining: decision.Remaining,
		Persona:   spec,
		Context:   aggregated,
	}, nil
}
