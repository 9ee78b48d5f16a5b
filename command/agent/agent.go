package agent

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	hclog "github.com/hashicorp/go-hclog"

	"github.com/modelgate/modelgate/gateway"
)

const (
	// bufferedTimeout bounds a non-streaming upstream exchange.
	bufferedTimeout = 60 * time.Second

	// streamTimeout bounds a streaming upstream exchange end to end.
	streamTimeout = 90 * time.Second

	// healthTimeout bounds the synthetic health probe.
	healthTimeout = 30 * time.Second
)

// Agent is the long running gateway daemon. It owns the routing
// registry, the rate governor, the upstream HTTP clients, and the
// background maintenance scheduler, and is exposed over HTTP by
// HTTPServer.
type Agent struct {
	config *Config

	logger    hclog.InterceptLogger
	logBuffer *logBuffer

	registry *gateway.Registry
	governor *gateway.Governor
	selector *gateway.Selector

	interactions *InteractionLog

	// configLock serializes admin writes to the routing document.
	configLock sync.Mutex

	// Separate clients per dispatch mode so each carries its own
	// overall timeout while sharing nothing with the others' pools.
	bufferedClient *http.Client
	streamClient   *http.Client
	healthClient   *http.Client

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	shutdownCh     chan struct{}
}

// NewAgent loads the routing document and assembles a running agent.
// The HTTP server is started separately by the caller.
func NewAgent(config *Config, logger hclog.InterceptLogger, logBuffer *logBuffer) (*Agent, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	routing, err := LoadRoutingConfig(config.ConfigPath)
	if err != nil {
		return nil, err
	}

	registry, err := gateway.NewRegistry(routing.Providers, routing.Routes)
	if err != nil {
		return nil, fmt.Errorf("invalid routing config: %w", err)
	}

	governor := gateway.NewGovernor(logger)

	interactions, err := NewInteractionLog(config.LogDir, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	a := &Agent{
		config:         config,
		logger:         logger,
		logBuffer:      logBuffer,
		registry:       registry,
		governor:       governor,
		selector:       gateway.NewSelector(registry, governor, logger),
		interactions:   interactions,
		bufferedClient: newUpstreamClient(bufferedTimeout),
		streamClient:   newUpstreamClient(streamTimeout),
		healthClient:   newUpstreamClient(healthTimeout),
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
		shutdownCh:     make(chan struct{}),
	}

	go func() {
		defer close(a.shutdownCh)
		gateway.NewScheduler(governor, logger).Run(ctx)
	}()

	a.logger.Info("agent started",
		"providers", len(routing.Providers),
		"models", len(routing.Routes),
		"config", config.ConfigPath)
	return a, nil
}

func newUpstreamClient(timeout time.Duration) *http.Client {
	client := cleanhttp.DefaultPooledClient()
	client.Timeout = timeout
	return client
}

// Shutdown stops the background scheduler and waits for it to exit.
func (a *Agent) Shutdown() {
	a.shutdownCancel()
	<-a.shutdownCh
	a.logger.Info("agent shutdown complete")
}
