package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/bhandras/delight/relay/internal/agent"
	"github.com/bhandras/delight/relay/internal/config"
	"github.com/bhandras/delight/relay/shared/logger"
	"github.com/bhandras/delight/relay/shared/wire"
)

func main() {
	if err := run(); err != nil {
		logger.Errorf("Error: %v", err)
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run() error {
	var (
		serverURL = flag.String("server", "", "relay server URL (overrides RELAY_AGENT_SERVER_URL)")
		principal = flag.String("principal", "", "principal id presented at handshake")
		token     = flag.String("token", "", "principal token presented at handshake")
		transport = flag.String("transport", "", "socketio or websocket")
		debug     = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	var overrides config.AgentOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "server":
			overrides.ServerURL = serverURL
		case "principal":
			overrides.PrincipalID = principal
		case "token":
			overrides.Token = token
		case "transport":
			overrides.Transport = transport
		case "debug":
			overrides.Debug = debug
		}
	})

	cfg, err := config.LoadAgent(overrides)
	if err != nil {
		return err
	}
	if cfg.Debug {
		logger.SetLevel(logger.LevelDebug)
	}
	defer logger.Sync()

	dialer, err := agent.NewDialer(cfg)
	if err != nil {
		return err
	}

	runner := agent.NewRunner(dialer, agent.New(agent.NewExecutor(cfg.FetchTimeout)), cfg.MaxRetryInterval)
	runner.OnReady = func(p wire.ReadyPayload) {
		logger.Infof("Agent ready; callers can address session %s", p.SessionID)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infof("Relay agent connecting to %s over %s", cfg.ServerURL, cfg.Transport)
	return runner.Run(ctx)
}
