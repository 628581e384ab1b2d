package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "github.com/richiesta-assistenza/service_layer/internal/errors"
)

func TestWriteErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set("X-Trace-ID", "t-1")
	WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), apperrors.NotFound("quote", "q1"))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var env Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Success || env.Error == nil || env.Error.Code != "NOT_FOUND" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if env.Error.Details["traceId"] != "t-1" {
		t.Fatalf("trace id missing: %v", env.Error.Details)
	}
}

func TestWriteErrorHidesInternalCause(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, nil, fmt.Errorf("pq: password authentication failed"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("internal cause leaked: %s", rec.Body.String())
	}
}

func TestWritePaginated(t *testing.T) {
	rec := httptest.NewRecorder()
	WritePaginated(rec, "ok", []int{1, 2}, PageRequest{Page: 2, Limit: 2}, 5)
	var env Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Pagination == nil || env.Pagination.TotalPages != 3 {
		t.Fatalf("unexpected pagination %+v", env.Pagination)
	}
}

func TestParsePaginationBounds(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?page=-3&limit=1000", nil)
	p := ParsePagination(r)
	if p.Page != 1 || p.Limit != 100 {
		t.Fatalf("unexpected page request %+v", p)
	}
	if got := Paginate([]int{1, 2, 3}, PageRequest{Page: 2, Limit: 2}); len(got) != 1 || got[0] != 3 {
		t.Fatalf("unexpected page %v", got)
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	if err := DecodeJSON(strings.NewReader(`{"name":"a","extra":1}`), &dst); err == nil {
		t.Fatalf("expected unknown field error")
	}
	if err := DecodeJSON(strings.NewReader(``), &dst); apperrors.HTTPStatusFor(err) != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %v", err)
	}
}
