package httputil

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/richiesta-assistenza/service_layer/internal/errors"
)

// Envelope is the uniform response body.
type Envelope struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message,omitempty"`
	Data       interface{} `json:"data,omitempty"`
	Metadata   interface{} `json:"metadata,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      *ErrorBody  `json:"error,omitempty"`
	Timestamp  string      `json:"timestamp"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Pagination describes a page of results.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// PageRequest is the parsed page/limit query.
type PageRequest struct {
	Page  int
	Limit int
}

// Offset returns the zero-based offset of the page.
func (p PageRequest) Offset() int { return (p.Page - 1) * p.Limit }

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

func now() string { return time.Now().UTC().Format(time.RFC3339) }

// WriteJSON writes a raw JSON value.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a success envelope.
func WriteSuccess(w http.ResponseWriter, status int, message string, data interface{}, metadata interface{}) {
	WriteJSON(w, status, Envelope{
		Success:   true,
		Message:   message,
		Data:      data,
		Metadata:  metadata,
		Timestamp: now(),
	})
}

// WritePaginated writes a paginated success envelope.
func WritePaginated(w http.ResponseWriter, message string, data interface{}, page PageRequest, total int) {
	totalPages := 0
	if page.Limit > 0 {
		totalPages = (total + page.Limit - 1) / page.Limit
	}
	WriteJSON(w, http.StatusOK, Envelope{
		Success: true,
		Message: message,
		Data:    data,
		Pagination: &Pagination{
			Page:       page.Page,
			Limit:      page.Limit,
			Total:      total,
			TotalPages: totalPages,
		},
		Timestamp: now(),
	})
}

// WriteErrorResponse writes an error envelope with explicit fields.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	if code == "" {
		code = string(apperrors.CodeInternal)
	}
	if traceID := w.Header().Get("X-Trace-ID"); traceID != "" {
		if details == nil {
			details = map[string]interface{}{}
		}
		details["traceId"] = traceID
	}
	WriteJSON(w, status, Envelope{
		Success:   false,
		Message:   message,
		Error:     &ErrorBody{Code: code, Details: details},
		Timestamp: now(),
	})
}

// WriteError maps err through the error taxonomy and writes the envelope.
// Internal causes are never echoed to the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	se := apperrors.Normalize(err)
	message := se.Message
	if se.Code == apperrors.CodeInternal {
		message = "internal server error"
	}
	WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), message, se.Details)
}

// BadRequest writes a 400 envelope.
func BadRequest(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, nil, http.StatusBadRequest, string(apperrors.CodeBadRequest), message, nil)
}

// Unauthorized writes a 401 envelope.
func Unauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "authentication required"
	}
	WriteErrorResponse(w, nil, http.StatusUnauthorized, string(apperrors.CodeUnauthorized), message, nil)
}

// Forbidden writes a 403 envelope.
func Forbidden(w http.ResponseWriter, message string) {
	if message == "" {
		message = "access denied"
	}
	WriteErrorResponse(w, nil, http.StatusForbidden, string(apperrors.CodeForbidden), message, nil)
}

// NotFound writes a 404 envelope.
func NotFound(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, nil, http.StatusNotFound, string(apperrors.CodeNotFound), message, nil)
}

// DecodeJSON decodes a request body, rejecting unknown fields.
func DecodeJSON(body io.Reader, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return apperrors.BadRequest("request body is required")
		}
		return apperrors.BadRequest("invalid JSON payload: %v", err)
	}
	return nil
}

// ParsePagination reads page and limit from the query string.
func ParsePagination(r *http.Request) PageRequest {
	page := atoiDefault(r.URL.Query().Get("page"), 1)
	if page < 1 {
		page = 1
	}
	limit := atoiDefault(r.URL.Query().Get("limit"), defaultPageLimit)
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return PageRequest{Page: page, Limit: limit}
}

// QueryInt parses an integer query parameter with a default.
func QueryInt(r *http.Request, key string, def int) int {
	return atoiDefault(r.URL.Query().Get(key), def)
}

// QueryFloat parses a float query parameter.
func QueryFloat(r *http.Request, key string) (float64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, apperrors.BadRequest("%s is required", key)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, apperrors.BadRequest("%s must be a number", key)
	}
	return v, nil
}

func atoiDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// Paginate slices items for the requested page.
func Paginate[T any](items []T, page PageRequest) []T {
	start := page.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
