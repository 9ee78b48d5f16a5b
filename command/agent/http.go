package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	"github.com/rs/cors"

	"github.com/modelgate/modelgate/gateway/structs"
)

const (
	// ErrInvalidMethod is used if the HTTP method is not supported
	ErrInvalidMethod = "Invalid method"
)

// allowCORS mirrors the permissive policy of the admin UI: the page
// may be served from anywhere and calls every endpoint.
var allowCORS = cors.New(cors.Options{
	AllowedOrigins:   []string{"*"},
	AllowedMethods:   []string{"HEAD", "GET", "POST", "PUT", "DELETE", "OPTIONS"},
	AllowedHeaders:   []string{"*"},
	AllowCredentials: true,
})

// HTTPServer wraps an Agent and exposes it over HTTP.
type HTTPServer struct {
	agent      *Agent
	mux        *http.ServeMux
	listener   net.Listener
	listenerCh chan struct{}
	logger     hclog.Logger
	Addr       string
}

// NewHTTPServer starts a new HTTP server over the agent.
func NewHTTPServer(agent *Agent, config *Config) (*HTTPServer, error) {
	ln, err := net.Listen("tcp", config.ListenAddr())
	if err != nil {
		return nil, fmt.Errorf("failed to start HTTP listener: %w", err)
	}

	mux := http.NewServeMux()
	srv := &HTTPServer{
		agent:      agent,
		mux:        mux,
		listener:   ln,
		listenerCh: make(chan struct{}),
		logger:     agent.logger.Named("http"),
		Addr:       ln.Addr().String(),
	}
	srv.registerHandlers()

	go func() {
		defer close(srv.listenerCh)
		http.Serve(ln, allowCORS.Handler(mux))
	}()

	srv.logger.Info("http server started", "address", srv.Addr)
	return srv, nil
}

// Shutdown is used to shutdown the HTTP server.
func (s *HTTPServer) Shutdown() {
	if s != nil {
		s.logger.Debug("shutting down http server")
		s.listener.Close()
		<-s.listenerCh // block until http.Serve has returned.
	}
}

// registerHandlers attaches the endpoint handlers to the mux.
func (s *HTTPServer) registerHandlers() {
	s.mux.HandleFunc("/v1/models", s.wrap(s.ModelsRequest))
	s.mux.HandleFunc("/v1/", s.wrap(s.ProxyRequest))

	s.mux.HandleFunc("/api_usage", s.wrap(s.UsageRequest))
	s.mux.HandleFunc("/api/config", s.wrap(s.ConfigRequest))
	s.mux.HandleFunc("/api/error_logs", s.wrap(s.ErrorLogsRequest))
	s.mux.HandleFunc("/api/health_check", s.wrap(s.HealthCheckRequest))
	s.mux.HandleFunc("/api/reset_rate_limits", s.wrap(s.ResetRateLimitsRequest))

	s.mux.HandleFunc("/admin", s.handleAdminUI)
	s.mux.Handle("/static/", http.StripPrefix("/static/",
		http.FileServer(http.Dir(s.agent.config.StaticDir))))
	s.mux.Handle("/", handleRootRedirect())
}

func (s *HTTPServer) handleAdminUI(resp http.ResponseWriter, req *http.Request) {
	http.ServeFile(resp, req, filepath.Join(s.agent.config.StaticDir, "admin.html"))
}

func handleRootRedirect() http.Handler {
	return http.HandlerFunc(func(resp http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/" {
			http.NotFound(resp, req)
			return
		}
		http.Redirect(resp, req, "/admin", http.StatusFound)
	})
}

// HTTPCodedError is used to provide the HTTP error code
type HTTPCodedError interface {
	error
	Code() int
}

func CodedError(c int, s string) HTTPCodedError {
	return &codedError{s, c}
}

type codedError struct {
	s    string
	code int
}

func (e *codedError) Error() string {
	return e.s
}

func (e *codedError) Code() int {
	return e.code
}

// errCode maps an endpoint error to its response status.
func errCode(err error) int {
	var coded HTTPCodedError
	if errors.As(err, &coded) {
		return coded.Code()
	}
	switch {
	case errors.Is(err, structs.ErrUnknownModel):
		return http.StatusNotFound
	case errors.Is(err, structs.ErrNoCapacity):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// wrap is used to wrap endpoint methods: it logs the request, encodes
// the returned object as JSON, and translates errors into status
// codes. Endpoints that take over the ResponseWriter (the proxy)
// return a nil object.
func (s *HTTPServer) wrap(handler func(resp http.ResponseWriter, req *http.Request) (interface{}, error)) func(resp http.ResponseWriter, req *http.Request) {
	return func(resp http.ResponseWriter, req *http.Request) {
		reqURL := req.URL.String()
		start := time.Now()
		defer func() {
			elapsed := time.Since(start)
			s.logger.Debug("request complete", "method", req.Method, "path", reqURL, "duration", elapsed)
			metrics.MeasureSinceWithLabels([]string{"gateway", "http", "request"}, start,
				[]metrics.Label{{Name: "path", Value: req.URL.Path}})
		}()

		obj, err := handler(resp, req)
		if err != nil {
			code := errCode(err)
			s.logger.Error("request failed", "method", req.Method, "path", reqURL, "code", code, "error", err)
			resp.WriteHeader(code)
			resp.Write([]byte(err.Error()))
			return
		}
		if obj == nil {
			return
		}

		buf, err := json.Marshal(obj)
		if err != nil {
			s.logger.Error("failed to encode response", "path", reqURL, "error", err)
			resp.WriteHeader(http.StatusInternalServerError)
			resp.Write([]byte(err.Error()))
			return
		}
		resp.Header().Set("Content-Type", "application/json")
		resp.Write(buf)
	}
}

// decodeBody is used to decode a JSON request body
func decodeBody(req *http.Request, out interface{}) error {
	dec := json.NewDecoder(req.Body)
	return dec.Decode(&out)
}
