package engine

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/apperr"
)

const problemContentType = "application/problem+json"

// Problem is an RFC 7807 problem details body.
type Problem struct {
	Type      string      `json:"type"`
	Title     string      `json:"title"`
	Status    int         `json:"status"`
	Detail    string      `json:"detail,omitempty"`
	Instance  string      `json:"instance,omitempty"`
	Errors    interface{} `json:"errors,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
}

const problemTypeBase = "https://agentgraph.dev/problems/"

// problemFor maps an error onto the problem it is rendered as. Unclassified
// errors become a generic 500.
func problemFor(err error) Problem {
	var (
		schemaErr *apperr.SchemaValidationError
		refErr    *apperr.ReferenceValidationError
		notFound  *apperr.NotFoundError
		conflict  *apperr.ConflictError
		tooLarge  *http.MaxBytesError
	)
	switch {
	case errors.As(err, &schemaErr):
		return Problem{
			Type:   problemTypeBase + "schema-validation",
			Title:  "Schema Validation Failed",
			Status: http.StatusBadRequest,
			Detail: "The request body does not match the expected schema",
			Errors: schemaErr.Errors,
		}
	case errors.As(err, &refErr):
		return Problem{
			Type:   problemTypeBase + "reference-validation",
			Title:  "Reference Validation Failed",
			Status: http.StatusBadRequest,
			Detail: referenceDetail(refErr),
			Errors: refErr.Violations,
		}
	case errors.As(err, &notFound):
		return Problem{
			Type:   problemTypeBase + "not-found",
			Title:  "Not Found",
			Status: http.StatusNotFound,
			Detail: notFound.Error(),
		}
	case errors.As(err, &conflict):
		return Problem{
			Type:   problemTypeBase + "conflict",
			Title:  "Conflict",
			Status: http.StatusConflict,
			Detail: conflict.Msg,
		}
	case errors.As(err, &tooLarge):
		return Problem{
			Type:   problemTypeBase + "payload-too-large",
			Title:  "Payload Too Large",
			Status: http.StatusRequestEntityTooLarge,
			Detail: "The request body exceeds the configured limit",
		}
	default:
		return Problem{
			Type:   problemTypeBase + "internal",
			Title:  "Internal Server Error",
			Status: http.StatusInternalServerError,
			Detail: "An unexpected error occurred",
		}
	}
}

func referenceDetail(err *apperr.ReferenceValidationError) string {
	if len(err.Violations) == 1 {
		v := err.Violations[0]
		return "Invalid " + v.Kind + " reference: " + v.ID
	}
	return "The request references entities that do not exist"
}

// writeError renders err as problem+json. 5xx responses are logged with
// the full cause, 4xx responses as warnings.
func (e *Engine) writeError(w http.ResponseWriter, r *http.Request, err error) {
	p := problemFor(err)
	log := e.logger.WithFields(map[string]string{
		"request_id": requestIDFromContext(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
	})
	if p.Status >= 500 {
		log.Errorf("HTTP %d - %v", p.Status, err)
	} else {
		log.Warnf("HTTP %d - %v", p.Status, err)
	}
	e.writeProblem(w, r, p)
}

func (e *Engine) writeProblem(w http.ResponseWriter, r *http.Request, p Problem) {
	p.Instance = r.URL.Path
	p.RequestID = requestIDFromContext(r.Context())

	w.Header().Set("Content-Type", problemContentType)
	w.WriteHeader(p.Status)
	json.NewEncoder(w).Encode(p)
}

func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}
