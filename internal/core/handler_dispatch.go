package core

import (
	"net/http"

	"pushpipe/internal/types"
)

// maxDispatchBatchSize is the hard ceiling on jobs claimed per invocation,
// regardless of what the caller requests.
const maxDispatchBatchSize = 200

// dispatchRequest is the optional body for a manual dispatch trigger.
type dispatchRequest struct {
	BatchSize int `json:"batch_size,omitempty"`
}

// HandleDispatch runs one claim-and-deliver pass over due jobs and returns
// the batch summary. Mounted at POST /internal/dispatch behind trigger
// authentication.
func (s *Server) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := DecodeJSONBody(r, &req); err != nil {
		Error(w, r, err)
		return
	}

	limit := s.Config.Pipeline.BatchSize
	if req.BatchSize != 0 {
		if req.BatchSize < 0 || req.BatchSize > maxDispatchBatchSize {
			Error(w, r, &types.AppError{
				Code:    types.ErrCodeValidationBatchSize,
				Message: "batch_size must be between 1 and 200",
				Details: map[string]any{"batch_size": req.BatchSize},
			})
			return
		}
		limit = req.BatchSize
	}

	summary, err := s.Dispatcher.Run(r.Context(), limit)
	if err != nil {
		s.Logger.Error("dispatch run failed",
			"error", err.Error(),
			"request_id", types.GetRequestID(r.Context()),
		)
		Error(w, r, err)
		return
	}

	JSON(w, r, http.StatusOK, APIResponse{Data: summary})
}
