package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"netopt/internal/apperr"
	"netopt/internal/store"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Status    int            `json:"status"`
	Detail    string         `json:"detail,omitempty"`
	Instance  string         `json:"instance,omitempty"`
	Kind      string         `json:"kind,omitempty"`
	Shortfall *float64       `json:"shortfall,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeProblemBody(w, Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

func writeProblemBody(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// writeError maps an engine or store error onto a problem response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), r.URL.Path)
		return
	}
	kind := apperr.KindOf(err)
	p := Problem{
		Type:     "about:blank",
		Title:    string(kind),
		Status:   apperr.HTTPStatus(err),
		Detail:   err.Error(),
		Instance: r.URL.Path,
		Kind:     string(kind),
	}
	if sf, ok := apperr.ShortfallOf(err); ok {
		p.Shortfall = &sf
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		p.Details = ae.Details
	}
	writeProblemBody(w, p)
}

// decodeJSON reads a JSON body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("invalid JSON: %v", err)
	}
	return nil
}

const maxBody = 16 << 20
