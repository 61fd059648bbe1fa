package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/aggregate"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/compare"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/weights"
)

func (s *Server) handleListBoundaries(w http.ResponseWriter, r *http.Request) {
	country := r.URL.Query().Get("country")
	if country == "" {
		s.writeError(w, model.NewValidationError("country is required"))
		return
	}
	var level model.AdminLevel
	if raw := r.URL.Query().Get("level"); raw != "" {
		l, ok := model.ParseAdminLevel(raw)
		if !ok {
			s.writeError(w, model.NewValidationError("unknown admin level "+strconv.Quote(raw)))
			return
		}
		level = l
	}
	boundaries, err := s.deps.Store.FetchBoundaries(r.Context(), country, level)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if boundaries == nil {
		boundaries = []model.AdminBoundary{}
	}
	writeJSON(w, http.StatusOK, boundaries)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Pipeline.Preview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Pipeline.Apply(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	res.Records = nil
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Runner.Submit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Runner.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Runner.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

type scoreRequest struct {
	Scope []string `json:"scope,omitempty"`
}

func (s *Server) handleScoreDataset(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := decode(r, &req, true); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.deps.Scoring.ComputeDatasetScore(r.Context(), chi.URLParam(r, "id"), req.Scope)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDatasetHealth(w http.ResponseWriter, r *http.Request) {
	rep, err := s.deps.Health.Check(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type rollupRequest struct {
	Config   model.RollupConfig `json:"config"`
	Children map[string]float64 `json:"children"`
}

type rollupResponse struct {
	Value *float64 `json:"value"`
}

// handleRollup runs one aggregation step. A null value means no score.
func (s *Server) handleRollup(w http.ResponseWriter, r *http.Request) {
	var req rollupRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, err)
		return
	}
	v, ok, err := aggregate.Rollup(req.Config, req.Children)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var resp rollupResponse
	if ok {
		resp.Value = &v
	}
	writeJSON(w, http.StatusOK, resp)
}

type countryRequest struct {
	CountryID string `json:"country_id"`
}

func (s *Server) handleComputeFramework(w http.ResponseWriter, r *http.Request) {
	var req countryRequest
	if err := decode(r, &req, true); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.deps.Scoring.ComputeFramework(r.Context(), req.CountryID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetFrameworkConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.deps.Scoring.ActiveFramework(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handlePutFrameworkConfig(w http.ResponseWriter, r *http.Request) {
	var cfg model.FrameworkConfig
	if err := decode(r, &cfg, false); err != nil {
		s.writeError(w, err)
		return
	}
	out, err := s.deps.Scoring.ActivateFramework(r.Context(), cfg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type rebalanceRequest struct {
	// Weights are percentages.
	Weights map[string]float64 `json:"weights"`
	// Key and Value set one sibling before balancing. An empty key only
	// commits the set.
	Key   string  `json:"key,omitempty"`
	Value float64 `json:"value,omitempty"`
}

type rebalanceResponse struct {
	Weights   map[string]float64 `json:"weights"`
	Fractions map[string]float64 `json:"fractions"`
}

func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	var req rebalanceRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, err)
		return
	}
	var (
		committed map[string]float64
		err       error
	)
	if req.Key != "" {
		committed, err = weights.Rebalance(req.Weights, req.Key, req.Value)
	} else {
		committed, err = weights.Commit(req.Weights)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	fractions, err := weights.Fractions(committed)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rebalanceResponse{Weights: committed, Fractions: fractions})
}

type compareRequest struct {
	Legacy  []model.Score `json:"legacy"`
	Current []model.Score `json:"current"`
}

func (s *Server) handleCompareScores(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, compare.Compare(req.Legacy, req.Current))
}

func (s *Server) handleCompareVersions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	legacy, err := versionParam(q.Get("legacy"), "legacy")
	if err != nil {
		s.writeError(w, err)
		return
	}
	current, err := versionParam(q.Get("current"), "current")
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.deps.Scoring.CompareConfigurations(r.Context(), legacy, current, q.Get("country"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// versionParam parses a config version. Empty or 0 selects the default config.
func versionParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, model.NewValidationError(name + " must be a non-negative config version")
	}
	return v, nil
}
