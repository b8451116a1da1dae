// The bridge binary drives the session multiplexer from a single-operator
// chat channel. The channel here is a line-oriented console transport;
// richer chat integrations implement bridge.Transport the same way.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pairlink/pairlink/internal/agent"
	"github.com/pairlink/pairlink/internal/bridge"
	"github.com/pairlink/pairlink/internal/config"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	bridgeCfg, err := config.LoadBridge()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := bridgeCfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	setLogLevel(bridgeCfg.LogLevel)

	// The bridge shares the desktop-side session settings with the agent.
	agentCfg, err := config.LoadAgent()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	guard, err := agent.NewDirGuard(agentCfg.AllowedDirs)
	if err != nil {
		log.Fatal().Err(err).Msg("ALLOWED_DIRS must list at least one directory (colon-separated)")
	}

	mux := agent.NewMultiplexer(guard, agentCfg.SessionCap, func(dir string) *agent.Worker {
		return agent.NewWorker(agentCfg.CLIPath(), dir, agentCfg.RestartDelay())
	})
	defer mux.CloseAll()

	tr := newConsoleTransport()
	b := bridge.New(bridgeCfg, mux, tr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go tr.readLoop(ctx)

	log.Info().Msg("bridge started; type /start after authenticating")
	b.Run(ctx)
	log.Info().Msg("bridge stopped")
}

// consoleTransport adapts stdin/stdout to the bridge transport seam.
type consoleTransport struct {
	in chan bridge.OperatorMessage
}

func newConsoleTransport() *consoleTransport {
	return &consoleTransport{in: make(chan bridge.OperatorMessage, 16)}
}

func (t *consoleTransport) Inbound() <-chan bridge.OperatorMessage {
	return t.in
}

func (t *consoleTransport) Send(operatorID, text string, html bool) error {
	_, err := fmt.Fprintln(os.Stdout, text)
	return err
}

func (t *consoleTransport) readLoop(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case t.in <- bridge.OperatorMessage{OperatorID: "console", Text: scanner.Text()}:
		case <-ctx.Done():
			return
		}
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
