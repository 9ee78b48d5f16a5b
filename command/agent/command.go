package agent

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/cli"
	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	"github.com/posener/complete"

	"github.com/modelgate/modelgate/version"
)

// gracefulTimeout is how long to wait for a clean shutdown before
// exiting anyway.
const gracefulTimeout = 10 * time.Second

// Command is a Command implementation that runs the gateway agent.
// The command will not end unless a shutdown message is sent on the
// ShutdownCh. If two messages are sent on the ShutdownCh it will forcibly
// exit.
type Command struct {
	Version    *version.VersionInfo
	Ui         cli.Ui
	ShutdownCh <-chan struct{}

	args       []string
	agent      *Agent
	httpServer *HTTPServer
	logger     hclog.InterceptLogger
	logBuffer  *logBuffer
}

func (c *Command) readConfig() *Config {
	cmdConfig := &Config{}

	flags := flag.NewFlagSet("agent", flag.ContinueOnError)
	flags.Usage = func() { c.Ui.Error(c.Help()) }

	flags.StringVar(&cmdConfig.ConfigPath, "config", "", "")
	flags.StringVar(&cmdConfig.BindAddr, "bind", "", "")
	flags.IntVar(&cmdConfig.Port, "port", 0, "")
	flags.StringVar(&cmdConfig.LogLevel, "log-level", "", "")
	flags.StringVar(&cmdConfig.LogDir, "log-dir", "", "")
	flags.StringVar(&cmdConfig.StaticDir, "static-dir", "", "")

	if err := flags.Parse(c.args); err != nil {
		return nil
	}

	config := DefaultConfig().Merge(cmdConfig)
	if err := config.Validate(); err != nil {
		c.Ui.Error(fmt.Sprintf("Invalid configuration: %s", err))
		return nil
	}
	return config
}

// setupLoggers routes agent logs to stderr and to the in-memory buffer
// backing the error log endpoint.
func (c *Command) setupLoggers(config *Config) hclog.InterceptLogger {
	c.logBuffer = newLogBuffer()
	return hclog.NewInterceptLogger(&hclog.LoggerOptions{
		Name:   "agent",
		Level:  hclog.LevelFromString(config.LogLevel),
		Output: io.MultiWriter(os.Stderr, c.logBuffer),
	})
}

// setupTelemetry wires the in-memory metrics sink. A SIGUSR1 dumps the
// current aggregates to stderr.
func (c *Command) setupTelemetry() {
	inm := metrics.NewInmemSink(10*time.Second, time.Minute)
	metrics.DefaultInmemSignal(inm)
	metrics.NewGlobal(metrics.DefaultConfig("modelgate"), inm)
}

func (c *Command) Run(args []string) int {
	c.Ui = &cli.PrefixedUi{
		OutputPrefix: "==> ",
		InfoPrefix:   "    ",
		ErrorPrefix:  "==> ",
		Ui:           c.Ui,
	}

	c.args = args
	config := c.readConfig()
	if config == nil {
		return 1
	}

	c.logger = c.setupLoggers(config)
	c.setupTelemetry()

	agent, err := NewAgent(config, c.logger, c.logBuffer)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error starting agent: %s", err))
		return 1
	}
	c.agent = agent

	httpServer, err := NewHTTPServer(agent, config)
	if err != nil {
		agent.Shutdown()
		c.Ui.Error(fmt.Sprintf("Error starting http server: %s", err))
		return 1
	}
	c.httpServer = httpServer

	c.Ui.Output("Modelgate agent started! Log data will stream in below:\n")
	c.Ui.Info(fmt.Sprintf("   Version: %s", c.Version.FullVersionNumber(true)))
	c.Ui.Info(fmt.Sprintf(" Bind Addr: %s", httpServer.Addr))
	c.Ui.Info(fmt.Sprintf("    Config: %s", config.ConfigPath))
	c.Ui.Info(fmt.Sprintf("   Log Dir: %s", config.LogDir))
	c.Ui.Info("")

	return c.handleSignals()
}

// handleSignals blocks until a shutdown signal is received, then tears
// the agent down.
func (c *Command) handleSignals() int {
	signalCh := make(chan os.Signal, 4)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	var sig os.Signal
	select {
	case s := <-signalCh:
		sig = s
	case <-c.ShutdownCh:
		sig = os.Interrupt
	}

	c.Ui.Output(fmt.Sprintf("Caught signal: %v", sig))

	gracefulCh := make(chan struct{})
	go func() {
		c.httpServer.Shutdown()
		c.agent.Shutdown()
		close(gracefulCh)
	}()

	select {
	case <-signalCh:
		return 1
	case <-time.After(gracefulTimeout):
		return 1
	case <-gracefulCh:
		return 0
	}
}

func (c *Command) AutocompleteFlags() complete.Flags {
	return complete.Flags{
		"-config":     complete.PredictFiles("*.yaml"),
		"-bind":       complete.PredictAnything,
		"-port":       complete.PredictAnything,
		"-log-level":  complete.PredictSet("TRACE", "DEBUG", "INFO", "WARN", "ERROR"),
		"-log-dir":    complete.PredictDirs("*"),
		"-static-dir": complete.PredictDirs("*"),
	}
}

func (c *Command) AutocompleteArgs() complete.Predictor {
	return complete.PredictNothing
}

func (c *Command) Synopsis() string {
	return "Runs the gateway agent"
}

func (c *Command) Help() string {
	helpText := `
Usage: modelgate agent [options]

  Starts the gateway agent and runs until an interrupt is received.
  The agent proxies OpenAI-compatible completion traffic to the
  configured upstream providers, enforcing per-provider rate limits
  and failing over between providers.

Options:

  -config=<path>
    Path to the YAML routing document holding the api_provider and
    model_config tables. Defaults to "config.yaml".

  -bind=<addr>
    The address the HTTP server listens on. Defaults to "0.0.0.0".

  -port=<port>
    The HTTP listen port. Defaults to 8100.

  -log-level=<level>
    The verbosity of agent logs. One of TRACE, DEBUG, INFO, WARN or
    ERROR. Defaults to INFO.

  -log-dir=<path>
    Directory for the request/response interaction log and its
    rotated backups. Defaults to "log".

  -static-dir=<path>
    Directory holding the admin UI assets. Defaults to "static".
`
	return strings.TrimSpace(helpText)
}
