package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/taskrunner/internal/model"
	"github.com/seantiz/taskrunner/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type healthResponse struct {
	Status string `json:"status"`
}

// statusResponse is the JSON response for GET /v1/status.
type statusResponse struct {
	State       string `json:"state"`
	Accepting   bool   `json:"accepting"`
	Outstanding int    `json:"outstanding"`
	Workers     int    `json:"workers"`
	Tasks       int    `json:"tasks"`
	Subscribers int    `json:"subscribers"`
}

// listJobsResponse wraps the paginated history response.
type listJobsResponse struct {
	Jobs   []*model.JobRecord `json:"jobs"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	state := s.engine.State()
	s.writeJSON(w, http.StatusOK, statusResponse{
		State:       state.String(),
		Accepting:   state.Accepting(),
		Outstanding: s.engine.Outstanding(),
		Workers:     s.engine.Workers(),
		Tasks:       s.engine.TaskCount(),
		Subscribers: s.engine.Broker().Subscribers(),
	})
}

// historyEnabled writes an error and returns false when no store is configured.
func (s *Server) historyEnabled(w http.ResponseWriter) bool {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "job history is disabled")
		return false
	}
	return true
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	if !s.historyEnabled(w) {
		return
	}
	stats, err := s.store.GetJobStats(r.Context())
	if err != nil {
		s.logger.Error("get job stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if !s.historyEnabled(w) {
		return
	}

	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	jobs, total, err := s.store.ListJobs(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*model.JobRecord{}
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:   jobs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if !s.historyEnabled(w) {
		return
	}

	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	s.writeJSON(w, http.StatusOK, job)
}
