package agent

import (
	"net/http"
)

const (
	// errorLogLimit caps how many error windows the endpoint returns.
	errorLogLimit = 10

	// errorLogContext is how many preceding lines accompany each error.
	errorLogContext = 2
)

// ErrorLogsRequest returns recent error-level log excerpts from the
// in-memory log buffer, oldest first.
func (s *HTTPServer) ErrorLogsRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodGet {
		return nil, CodedError(http.StatusMethodNotAllowed, ErrInvalidMethod)
	}
	return map[string][]string{
		"error_logs": s.agent.logBuffer.ErrorWindows(errorLogLimit, errorLogContext),
	}, nil
}
