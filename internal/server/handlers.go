package server

import (
	"net/http"
	"strconv"

	"github.com/emrgen/salesdb/internal/apperr"
	"github.com/emrgen/salesdb/internal/model"
	"github.com/emrgen/salesdb/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetSale(w http.ResponseWriter, r *http.Request) {
	useCache := true
	if v := r.URL.Query().Get("cache"); v != "" {
		useCache, _ = strconv.ParseBool(v)
	}

	agg, err := s.relationships.GetAggregate(r.Context(), chi.URLParam(r, "saleID"), useCache)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}

	writeJSON(w, http.StatusOK, agg)
}

func (s *Server) handleDeleteSale(w http.ResponseWriter, r *http.Request) {
	res, err := s.relationships.CascadeDelete(r.Context(), chi.URLParam(r, "saleID"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAddChild(w http.ResponseWriter, r *http.Request) {
	t, err := model.ParseChildType(chi.URLParam(r, "type"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}

	var data map[string]any
	if err := decode(r, &data); err != nil {
		writeError(w, r, err, nil)
		return
	}

	id, err := s.relationships.AddChild(r.Context(), chi.URLParam(r, "saleID"), t, data)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleUpdateChild(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := decode(r, &patch); err != nil {
		writeError(w, r, err, nil)
		return
	}

	child, err := s.relationships.UpdateChild(r.Context(), chi.URLParam(r, "childID"), patch)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}

	writeJSON(w, http.StatusOK, child)
}

func (s *Server) handleRemoveChild(w http.ResponseWriter, r *http.Request) {
	if err := s.relationships.RemoveChild(r.Context(), chi.URLParam(r, "childID")); err != nil {
		writeError(w, r, err, nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	filters := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			filters[key] = values[0]
		}
	}

	stats, err := s.relationships.ApplianceStatistics(r.Context(), filters)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDuplicateCheck(w http.ResponseWriter, r *http.Request) {
	var c service.Candidate
	if err := decode(r, &c); err != nil {
		writeError(w, r, err, nil)
		return
	}

	res, err := s.duplicates.Check(r.Context(), c)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}

	// a failed store of the match does not fail the check, a refused one does
	if recordID := r.URL.Query().Get("recordId"); recordID != "" {
		if _, err := s.duplicates.StoreMatch(r.Context(), recordID, res); err != nil {
			if k := apperr.KindOf(err); k == apperr.AccessDenied || k == apperr.ValidationFailed {
				writeError(w, r, err, nil)
				return
			}
			logrus.Warnf("server: failed to store duplicate match for %s: %v", recordID, err)
		}
	}

	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleValidation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.validation.Run(r.Context()))
}

func (s *Server) handleMigrate(w http.ResponseWriter, r *http.Request) {
	res, err := s.migrations.Run(r.Context())
	if err != nil {
		writeError(w, r, err, res)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "migrationID")
	if err := s.migrations.Rollback(r.Context(), id); err != nil {
		writeError(w, r, err, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"migrationId": id, "state": "ROLLED_BACK"})
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := s.migrations.ListBackups(r.Context())
	if err != nil {
		writeError(w, r, err, nil)
		return
	}

	writeJSON(w, http.StatusOK, backups)
}
