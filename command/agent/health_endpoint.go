package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type healthCheckRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type healthCheckResponse struct {
	Status       string `json:"status"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	Error        string `json:"error,omitempty"`
	ResponseTime int64  `json:"response_time"`
}

// HealthCheckRequest probes a provider with a minimal synthetic
// completion request. The probe bypasses the rate governor so an
// exhausted or error-limited provider can still be checked.
func (s *HTTPServer) HealthCheckRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != http.MethodPost {
		return nil, CodedError(http.StatusMethodNotAllowed, ErrInvalidMethod)
	}

	var args healthCheckRequest
	if err := decodeBody(req, &args); err != nil {
		return nil, CodedError(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	}
	if args.Provider == "" {
		return nil, CodedError(http.StatusBadRequest, "Provider name is required")
	}
	if args.Model == "" {
		return nil, CodedError(http.StatusBadRequest, "Model name is required")
	}

	provider, ok := s.agent.registry.Provider(args.Provider)
	if !ok {
		return nil, CodedError(http.StatusNotFound,
			fmt.Sprintf("Provider '%s' not found", args.Provider))
	}

	probe, err := json.Marshal(map[string]interface{}{
		"model":      args.Model,
		"messages":   []map[string]string{{"role": "user", "content": "Hello"}},
		"max_tokens": 5,
	})
	if err != nil {
		return nil, CodedError(http.StatusInternalServerError, err.Error())
	}

	outReq, err := http.NewRequestWithContext(req.Context(), http.MethodPost,
		provider.BaseURL+"/chat/completions", bytes.NewReader(probe))
	if err != nil {
		return nil, CodedError(http.StatusInternalServerError, err.Error())
	}
	outReq.Header.Set("Content-Type", "application/json")
	if provider.APIKey != "" {
		outReq.Header.Set("Authorization", "Bearer "+provider.APIKey)
	}

	start := time.Now()
	res, err := s.agent.healthClient.Do(outReq)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		s.logger.Error("health check failed", "provider", args.Provider, "model", args.Model, "error", err)
		return &healthCheckResponse{
			Status:       "unhealthy",
			Provider:     args.Provider,
			Model:        args.Model,
			Error:        err.Error(),
			ResponseTime: elapsed,
		}, nil
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return &healthCheckResponse{
			Status:       "unhealthy",
			Provider:     args.Provider,
			Model:        args.Model,
			Error:        fmt.Sprintf("HTTP %d: %s", res.StatusCode, body),
			ResponseTime: elapsed,
		}, nil
	}

	return &healthCheckResponse{
		Status:       "healthy",
		Provider:     args.Provider,
		Model:        args.Model,
		ResponseTime: elapsed,
	}, nil
}
