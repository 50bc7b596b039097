package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/arcway-labs/pilot/internal/browser"
	"github.com/arcway-labs/pilot/internal/config"
	"github.com/arcway-labs/pilot/internal/db"
	"github.com/arcway-labs/pilot/internal/decider"
	"github.com/arcway-labs/pilot/internal/guardrail"
	"github.com/arcway-labs/pilot/internal/httpapi"
	"github.com/arcway-labs/pilot/internal/channel"
	"github.com/arcway-labs/pilot/internal/llm"
	"github.com/arcway-labs/pilot/internal/planner"
	"github.com/arcway-labs/pilot/internal/planner/scout"
	"github.com/arcway-labs/pilot/internal/session"
	"github.com/arcway-labs/pilot/internal/synth"
	"github.com/arcway-labs/pilot/internal/visibility"
)

func main() {
	_ = godotenv.Load()
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	root := &cobra.Command{
		Use:   "pilotd",
		Short: "Browser-automation agent server",
	}
	root.AddCommand(serveCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("pilotd")
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket/HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			store, err := db.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			return store.Close()
		},
	}
}

func runServe() error {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("db open")
	}
	defer store.Close()

	llmClient, err := llm.NewClientWithConfig(log.With().Str("comp", "llm").Logger(), cfg.LLMProvider, cfg.LLMMaxRequestSize, cfg.LLMDefaultMaxTokens)
	if err != nil {
		log.Fatal().Err(err).Msg("llm init")
	}

	headless := cfg.Headless
	launcher, err := browser.NewLauncher(ctx, &headless)
	if err != nil {
		log.Fatal().Err(err).Msg("browser init")
	}
	defer launcher.Close()

	// The scout gets its own, always-visible browser: it's a distinct
	// process from the main session's so a user can see and clear a
	// CAPTCHA in it even when the main session runs headless (spec §4.2).
	scoutHeadless := false
	scoutLauncher, err := browser.NewLauncher(ctx, &scoutHeadless)
	if err != nil {
		log.Fatal().Err(err).Msg("scout browser init")
	}
	defer scoutLauncher.Close()

	scoutSink := eventSink{}
	sc := scout.New(llmClient, scoutLauncher, scoutSink, cfg.ViewportWidth, cfg.ViewportHeight, log.With().Str("comp", "scout").Logger())
	pl := planner.New(llmClient, sc, log.With().Str("comp", "planner").Logger())
	dc := decider.New(llmClient, log.With().Str("comp", "decider").Logger())
	gr := guardrail.New(cfg.ConfirmationKeywords, nil, cfg.AllowedDomains)
	vis := visibility.New(llmClient, log.With().Str("comp", "visibility").Logger())
	sy := synth.New(llmClient, log.With().Str("comp", "synth").Logger())

	hub := channel.NewHub(log.Logger)
	_ = session.New(hub, store, launcher, pl, dc, gr, vis, sy, cfg, log.Logger)

	router := httpapi.Router(hub, cfg.ArtifactsDir, log.Logger)
	srv := &http.Server{
		Addr:              ":" + cfg.ListenPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("pilotd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// eventSink logs scout progress through zerolog, satisfying the scout
// package's EventSink interface without pulling it into internal/channel.
type eventSink struct{}

func (eventSink) Log(phase, message string) {
	log.Info().Str("comp", "scout").Str("phase", phase).Msg(message)
}
