package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/nest/internal/affinity"
	"github.com/lazypower/nest/internal/engine"
)

func (s *Server) handlePrograms(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	records := s.store.Snapshot()
	out := make([]engine.Prediction, 0, len(records))
	for _, rec := range records {
		out = append(out, engine.Predict(rec, s.opts.Tau, now))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleProgram(w http.ResponseWriter, r *http.Request) {
	class := chi.URLParam(r, "class")
	rec, ok := s.store.Record(class)
	if !ok {
		writeError(w, http.StatusNotFound, affinity.ErrUnknownClass.Error())
		return
	}
	writeJSON(w, http.StatusOK, engine.Predict(rec, s.opts.Tau, s.now()))
}

func (s *Server) handleWindows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Handles())
}
