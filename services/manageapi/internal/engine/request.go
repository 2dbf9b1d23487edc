package engine

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/apperr"
	"github.com/agentgraph/agentgraph-open/services/manageapi/internal/models"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	// maxPage keeps (page-1)*limit far from overflowing an OFFSET.
	maxPage = 1_000_000
)

// Pagination describes one page of a list response.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// ListResponse is the envelope of paginated list endpoints.
type ListResponse struct {
	Data       interface{} `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

// DataResponse is the envelope of unpaginated list endpoints.
type DataResponse struct {
	Data interface{} `json:"data"`
}

func newPagination(page, limit, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{Page: page, Limit: limit, Total: total, Pages: pages}
}

func scopeFromRequest(r *http.Request) models.Scope {
	vars := mux.Vars(r)
	return models.Scope{TenantID: vars["tenant_id"], ProjectID: vars["project_id"]}
}

func graphKeyFromRequest(r *http.Request) models.GraphKey {
	return scopeFromRequest(r).Key(mux.Vars(r)["graph_id"])
}

// readBody returns the request body. Oversized bodies surface as
// *http.MaxBytesError.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, apperr.NewSchemaError("", "request body is required")
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, apperr.NewSchemaError("", "request body is required")
	}
	return body, nil
}

// pageParams reads ?page and ?limit. page is 1-based.
func pageParams(r *http.Request) (page, limit int, err error) {
	page, limit = 1, defaultPageLimit
	q := r.URL.Query()

	schemaErr := &apperr.SchemaValidationError{}
	if v := q.Get("page"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 1 || n > maxPage {
			schemaErr.Errors = append(schemaErr.Errors, apperr.FieldError{Pointer: "?page", Reason: "must be an integer between 1 and " + strconv.Itoa(maxPage)})
		} else {
			page = n
		}
	}
	if v := q.Get("limit"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 1 || n > maxPageLimit {
			schemaErr.Errors = append(schemaErr.Errors, apperr.FieldError{Pointer: "?limit", Reason: "must be an integer between 1 and " + strconv.Itoa(maxPageLimit)})
		} else {
			limit = n
		}
	}
	if len(schemaErr.Errors) > 0 {
		return 0, 0, schemaErr
	}
	return page, limit, nil
}
