package agent

import (
	"net/http"
)

// UsageRequest reports the current window occupancy per provider.
func (s *HTTPServer) UsageRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(http.StatusMethodNotAllowed, ErrInvalidMethod)
	}
	return s.agent.governor.Snapshot(s.agent.registry.Limits), nil
}

// ResetRateLimitsRequest clears every rate window and the error
// ledger for all providers.
func (s *HTTPServer) ResetRateLimitsRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodPost {
		return nil, CodedError(http.StatusMethodNotAllowed, ErrInvalidMethod)
	}

	s.agent.governor.ResetAll()
	s.logger.Info("rate limits reset via admin endpoint")
	return map[string]string{
		"status":  "success",
		"message": "All rate limits have been reset",
	}, nil
}
