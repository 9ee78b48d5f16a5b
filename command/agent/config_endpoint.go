package agent

import (
	"fmt"
	"io"
	"net/http"
)

// ConfigRequest serves the model routing table. GET returns the live
// table as ordered JSON; POST replaces it and persists the change back
// to the config file.
func (s *HTTPServer) ConfigRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	switch req.Method {
	case http.MethodGet:
		return s.configGet(resp, req)
	case http.MethodPost:
		return s.configUpdate(resp, req)
	default:
		return nil, CodedError(http.StatusMethodNotAllowed, ErrInvalidMethod)
	}
}

func (s *HTTPServer) configGet(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	buf, err := RoutesToJSON(s.agent.registry.AllRoutes())
	if err != nil {
		return nil, CodedError(http.StatusInternalServerError, err.Error())
	}

	// written directly so key order survives
	resp.Header().Set("Content-Type", "application/json")
	resp.Write(buf)
	return nil, nil
}

func (s *HTTPServer) configUpdate(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, CodedError(http.StatusBadRequest, fmt.Sprintf("failed to read request body: %v", err))
	}
	routes, err := RoutesFromJSON(body)
	if err != nil {
		return nil, CodedError(http.StatusBadRequest, fmt.Sprintf("invalid routing config: %v", err))
	}

	// Serialized so concurrent admin writes cannot interleave the
	// in-memory swap and the file rewrite.
	s.agent.configLock.Lock()
	defer s.agent.configLock.Unlock()

	if err := s.agent.registry.SetRoutes(routes); err != nil {
		return nil, CodedError(http.StatusBadRequest, err.Error())
	}
	if err := SaveModelRoutes(s.agent.config.ConfigPath, routes); err != nil {
		return nil, CodedError(http.StatusInternalServerError,
			fmt.Sprintf("failed to persist routing config: %v", err))
	}

	s.logger.Info("model routing config updated", "models", len(routes))
	return map[string]string{"status": "success"}, nil
}
