package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/reconcile"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/store"
)

// maxBody bounds request bodies.
const maxBody = 8 << 20

type errorBody struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
	// Offset is the last committed raw-row offset of a failed reconciliation.
	Offset *int `json:"offset,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

// writeError maps engine errors onto status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *model.ValidationError
	var cerr *reconcile.ComputationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Problems: verr.Problems})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, store.ErrJobConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.As(err, &cerr):
		s.log.Error("reconciliation failed", zap.String("dataset_id", cerr.DatasetID), zap.Error(err))
		offset := cerr.Offset
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "reconciliation failed", Offset: &offset})
	default:
		s.log.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

// decode reads a JSON body. An empty body leaves v untouched when optional.
func decode(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return model.NewValidationError("invalid request body: " + err.Error())
	}
	return nil
}
