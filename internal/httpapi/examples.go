package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pitchlab/coachlink/internal/examples"
)

type listExamplesResponse struct {
	Industries []string         `json:"industries"`
	Examples   []examples.Pitch `json:"examples"`
}

func (s *Server) handleListExamples(w http.ResponseWriter, r *http.Request) {
	industry := strings.TrimSpace(r.URL.Query().Get("industry"))
	respondJSON(w, http.StatusOK, listExamplesResponse{
		Industries: examples.Industries(),
		Examples:   examples.ByIndustry(industry),
	})
}

func (s *Server) handleGetExample(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pitch, err := examples.Get(id)
	if err != nil {
		if errors.Is(err, examples.ErrNotFound) {
			respondError(w, http.StatusNotFound, "example_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, pitch)
}
