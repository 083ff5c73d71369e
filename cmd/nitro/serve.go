package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/normanking/nitro/internal/agents"
	"github.com/normanking/nitro/internal/config"
	"github.com/normanking/nitro/internal/language"
	"github.com/normanking/nitro/internal/llm"
	"github.com/normanking/nitro/internal/media"
	"github.com/normanking/nitro/internal/memory"
	"github.com/normanking/nitro/internal/platform"
	"github.com/normanking/nitro/internal/router"
	"github.com/normanking/nitro/internal/search"
	"github.com/normanking/nitro/internal/server"
)

func serveCmd() *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			return runServer(cfg)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides server.host)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}

// runServer builds every component and serves until SIGINT or SIGTERM.
func runServer(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := memory.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}
	defer store.Close()

	rt, report, models, err := buildRouter(cfg)
	if err != nil {
		return err
	}

	deps := server.Deps{
		Config:   cfg,
		Store:    store,
		Router:   rt,
		Detector: language.NewDetector(),
		Image:    media.NewImageGenerator(cfg.Features.Image, filepath.Join(cfg.GetDataDir(), "images")),
		Video:    media.NewVideoGenerator(cfg.Features.Video, ""),
		Voice:    media.NewVoiceAssistant(cfg.Features.Voice),
		Platform: report,
		Models:   models,
	}
	if cfg.Features.Search {
		deps.Search = search.New(searchOptions(cfg), rt)
	}
	if cfg.Features.Agents {
		mgr := agents.NewManager(cfg.Agents.FileRoot)
		mgr.Start()
		defer mgr.Stop()
		deps.Agents = mgr
	}

	srv := server.New(deps)

	log.Info().
		Str("version", config.Version).
		Str("addr", cfg.Addr()).
		Str("mode", report.Mode.String()).
		Str("platform", report.Platform).
		Str("backend", store.Backend()).
		Msg(config.AppName + " starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}

func searchOptions(cfg *config.Config) search.Options {
	return search.Options{
		Endpoint:   cfg.Search.Endpoint,
		MaxResults: cfg.Search.MaxResults,
		Timeout:    cfg.Search.Timeout,
		FetchPages: cfg.Search.FetchPages,
	}
}

// buildRouter wires both adapters. A configured deployment mode is fixed;
// "auto" classifies the environment on every request. The returned stats
// are the adapters' provider counters.
func buildRouter(cfg *config.Config) (*router.Router, platform.Report, []server.ModelStats, error) {
	mode, fixed, err := platform.ParseMode(cfg.Deployment.Mode)
	if err != nil {
		return nil, platform.Report{}, nil, err
	}

	report := platform.Detect(cfg.Local.Endpoint)
	var opts []router.Option
	if fixed {
		report = platform.Report{Mode: mode, Marker: "config", LocalURL: cfg.Local.Endpoint}
	} else {
		localURL := cfg.Local.Endpoint
		opts = append(opts, router.WithModeFunc(func() platform.DeploymentMode {
			return platform.DetectMode(localURL)
		}))
	}

	local, localStats := llm.NewLocalFromConfig(cfg)
	cloud, cloudStats := llm.NewCloudFromConfig(cfg)
	models := []server.ModelStats{localStats, cloudStats}
	return router.New(report.Mode, local, cloud, opts...), report, models, nil
}
