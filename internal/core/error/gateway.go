package errx

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrPersonaNotFound is the sentinel for lookups of unknown persona ids.
// Callers decide fallback policy; the gateway never substitutes a default.
var ErrPersonaNotFound = errors.New("persona not found")

// PersonaNotFound wraps the sentinel with the offending id so handlers can
// surface it distinctly from rate limiting.
func PersonaNotFound(id string) *AppError {
	return New(
		fmt.Errorf("%w: %q", ErrPersonaNotFound, id),
		http.StatusNotFound,
		PersonaNotFoundMessage,
	)
}

// WrapRetrieval maps retrieval backend errors to the unified error type.
// These never abort a turn; they exist so the aggregator can log a
// consistent shape before degrading to an empty contribution.
func WrapRetrieval(err error) *AppError {
	if err == nil {
		return nil
	}
	return New(err, http.StatusBadGateway, RetrievalErrorMessage)
}
