// Command webserv is the process entry point: it loads the declarative
// configuration, wires the core collaborators together, and runs one
// Multiplexer per listening endpoint until a termination signal arrives.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/MariiaZhytnikova/webserv/internal/cgi"
	"github.com/MariiaZhytnikova/webserv/internal/config"
	"github.com/MariiaZhytnikova/webserv/internal/memory"
	"github.com/MariiaZhytnikova/webserv/internal/multiplexer"
	"github.com/MariiaZhytnikova/webserv/internal/session"
	"github.com/MariiaZhytnikova/webserv/log"
)

// sessionSweepInterval is how often expired sessions and their persisted
// backing entries are swept.
const sessionSweepInterval = session.DefaultTTL / 4

// cgiMaxConcurrent bounds how many CGI children may run at once across the
// whole process.
const cgiMaxConcurrent = 32

func main() {
	configPath := flag.String("config", "webserv.yaml", "path to the virtual host configuration file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := newLogger(*logLevel)

	tree, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msgf("failed to load configuration from %s", *configPath)
		os.Exit(1)
	}

	sessionBacking := memory.New(sessionSweepInterval)
	defer sessionBacking.Close()

	sessions := session.NewStore(session.DefaultTTL, sessionSweepInterval).WithBacking(sessionBacking)
	defer sessions.Close()

	cgiExec, err := cgi.NewExecutor(cgiMaxConcurrent)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start CGI worker pool")
		os.Exit(1)
	}
	defer cgiExec.Release()

	endpoints := tree.Endpoints()
	if len(endpoints) == 0 {
		logger.Fatal().Msg("configuration names no listening endpoints")
		os.Exit(1)
	}

	muxes := make([]*multiplexer.Multiplexer, len(endpoints))
	for i, ep := range endpoints {
		muxes[i] = multiplexer.New(tree, sessions, cgiExec, logger)
		logger.Info().Msgf("starting listener %d/%d on %s", i+1, len(endpoints), ep.String())
	}

	var wg sync.WaitGroup
	for i, ep := range endpoints {
		wg.Add(1)
		go func(m *multiplexer.Multiplexer, ep config.Endpoint) {
			defer wg.Done()
			if err := m.Listen(ep); err != nil {
				logger.Error().Err(err).Msgf("listener on %s stopped", ep.String())
			}
		}(muxes[i], ep)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info().Msg("shutting down")
	shutdownCtx := context.Background()
	for _, m := range muxes {
		if err := m.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("error during listener shutdown")
		}
	}

	wg.Wait()
}

func newLogger(level string) *log.Logger {
	console := log.DefaultConsoleWriter()
	console.Out = os.Stdout
	l := log.New(console, log.InfoLevel)

	switch level {
	case "debug":
		l.SetLevel(log.DebugLevel)
	case "warn":
		l.SetLevel(log.WarnLevel)
	case "error":
		l.SetLevel(log.ErrorLevel)
	default:
		l.SetLevel(log.InfoLevel)
	}
	return l
}
