package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gregwebs/go-recovery"
	"github.com/invakid404/pve-openapi/internal/compiler"
	"github.com/invakid404/pve-openapi/internal/config"
	"github.com/invakid404/pve-openapi/internal/doctags"
	"github.com/invakid404/pve-openapi/internal/memlimit"
	"github.com/invakid404/pve-openapi/internal/openapidoc"
	"github.com/invakid404/pve-openapi/internal/pve"
	"github.com/invakid404/pve-openapi/internal/pveschema"
	"github.com/invakid404/pve-openapi/internal/server"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "pve-openapi",
	Short: "Validating, documented proxy for the Proxmox VE API",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Compile the Proxmox API schema and start the proxy server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.New(), cmd.Flags())
		if err != nil {
			return err
		}

		var output io.Writer = os.Stdout
		if cfg.PrettyLogs {
			output = zerolog.ConsoleWriter{Out: os.Stdout}
		}
		logger := zerolog.New(output).Level(cfg.LogLevel).With().Timestamp().Logger()

		if limit := memlimit.Resolve(cfg.MemLimit); limit > 0 {
			memlimit.Apply(limit)
			logger.Info().Str("limit", memlimit.FormatBytes(limit)).Msg("GOMEMLIMIT configured")
		} else if cfg.MemLimit == memlimit.Auto {
			logger.Warn().Msg("Could not detect memory limit, GOMEMLIMIT not set")
		}

		nodes, err := pveschema.LoadFile(cfg.SchemaPath)
		if err != nil {
			return fmt.Errorf("failed to load API schema: %w", err)
		}

		if err := pve.RegisterMetrics(); err != nil {
			return fmt.Errorf("failed to register upstream metrics: %w", err)
		}

		clientConfig := pve.DefaultConfig()
		clientConfig.BaseURL = cfg.PVE.APIURL
		clientConfig.TokenUser = cfg.PVE.TokenUser
		clientConfig.TokenName = cfg.PVE.TokenName
		clientConfig.Token = cfg.PVE.Token
		clientConfig.InsecureSkipVerify = cfg.PVE.InsecureTLS
		clientConfig.Timeout = cfg.PVE.Timeout
		clientConfig.NormalizeBooleans = cfg.PVE.NormalizeBooleans
		clientConfig.Logger = logger.With().Str("component", "pve").Logger()

		client, err := pve.NewClient(clientConfig)
		if err != nil {
			return fmt.Errorf("failed to create Proxmox client: %w", err)
		}

		reg := compiler.New(client, &compiler.Config{
			Logger:            logger.With().Str("component", "compiler").Logger(),
			ValidateResponses: cfg.ValidateResponses,
		}).Build(nodes)

		logger.Info().
			Int("routes", reg.Len()).
			Int("collisions", len(reg.Collisions())).
			Str("schema", cfg.SchemaPath).
			Msg("API schema compiled")

		doc, err := openapidoc.Build(openapidoc.DefaultInfo(), cfg.Prefix, reg, doctags.List(nodes), doctags.ListGroups(nodes))
		if err != nil {
			return fmt.Errorf("failed to build OpenAPI document: %w", err)
		}
		docs, err := server.NewDocs(doc)
		if err != nil {
			return err
		}

		serverConfig := &server.Config{
			Prefix:    cfg.Prefix,
			BodyLimit: cfg.BodyLimit,
			Version:   doc.Info.Version,
			Logger:    logger,
		}

		var srv server.Server
		switch cfg.Router {
		case config.RouterChi:
			srv, err = server.NewChi(reg, docs, serverConfig)
		default:
			srv, err = server.NewFiber(reg, docs, serverConfig)
		}
		if err != nil {
			return fmt.Errorf("failed to create %s server: %w", cfg.Router, err)
		}

		recovery.ErrorHandler = func(err error) {
			logger.Error().Err(err).Msg("Unhandled panic recovered")
		}

		serverErr := make(chan error, 1)
		go recovery.GoHandler(func(err error) {
			serverErr <- err
		}, func() error {
			logger.Info().
				Str("addr", cfg.Addr()).
				Str("router", string(cfg.Router)).
				Str("upstream", cfg.PVE.APIURL).
				Msg("Starting server")
			logger.Info().Msgf("API docs: http://localhost:%d/docs", cfg.Port)
			return srv.Listen(cfg.Addr())
		})

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErr:
			return fmt.Errorf("server error: %w", err)
		case sig := <-sigChan:
			logger.Info().Str("signal", sig.String()).Msg("Received signal, initiating graceful shutdown")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer shutdownCancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("Error during server shutdown")
				return fmt.Errorf("shutdown error: %w", err)
			}

			logger.Info().Msg("Server gracefully stopped")
			return nil
		}
	},
}

func init() {
	config.RegisterFlags(serveCmd.Flags())
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		logger.Fatal().Err(err).Msg("Command failed")
	}
}
