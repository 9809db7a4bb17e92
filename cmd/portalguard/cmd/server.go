package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmcleod/portalguard/config"
	"github.com/jmcleod/portalguard/internal/util"
)

var serverFlags struct {
	env           string
	listenAddr    string
	dataDir       string
	storage       string
	allowedOrigin string
	redisAddr     string
	tlsCert       string
	tlsKey        string
	logLevel      string
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the guarded portal server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(os.Getenv)
		if err != nil {
			return err
		}
		applyServerFlags(&cfg, cmd.Flags())
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err := newLogger(os.Stderr, serverFlags.logLevel)
		if err != nil {
			return err
		}
		logger.Info("configuration loaded", "config", cfg)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		tlsConfig, err := loadTLS(cfg, logger)
		if err != nil {
			return err
		}

		server := &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           a.handler,
			TLSConfig:         tlsConfig,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner(cmd.OutOrStdout())
		logger.Info("server listening", "addr", cfg.ListenAddr, "environment", cfg.Environment)

		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

// applyServerFlags overlays flags the user set explicitly; unset flags
// leave the environment's value alone.
func applyServerFlags(cfg *config.Config, flags *pflag.FlagSet) {
	set := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	set("env", &cfg.Environment, serverFlags.env)
	set("listen", &cfg.ListenAddr, serverFlags.listenAddr)
	set("data-dir", &cfg.DataDir, serverFlags.dataDir)
	set("storage", &cfg.StorageBackend, serverFlags.storage)
	set("allowed-origin", &cfg.AllowedOrigin, serverFlags.allowedOrigin)
	set("redis-addr", &cfg.RedisAddr, serverFlags.redisAddr)
	set("tls-cert", &cfg.TLSCert, serverFlags.tlsCert)
	set("tls-key", &cfg.TLSKey, serverFlags.tlsKey)
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

func loadTLS(cfg config.Config, logger *slog.Logger) (*tls.Config, error) {
	var cert tls.Certificate
	var err error
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		cert, err = tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
	} else {
		cert, err = util.GenerateSelfSignedCert()
		if err != nil {
			return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
		}
		logger.Warn("using self-signed runtime generated certificate for TLS")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func init() {
	rootCmd.AddCommand(serverCmd)
	f := serverCmd.Flags()
	f.StringVar(&serverFlags.env, "env", config.Development, "Environment (development, test, production)")
	f.StringVar(&serverFlags.listenAddr, "listen", ":8443", "Address to listen on")
	f.StringVar(&serverFlags.dataDir, "data-dir", "./data", "Directory for the bbolt code store")
	f.StringVar(&serverFlags.storage, "storage", config.StorageBBolt, "Code storage backend (memory, bbolt, postgres)")
	f.StringVar(&serverFlags.allowedOrigin, "allowed-origin", "", "Front-end origin allowed by CORS")
	f.StringVar(&serverFlags.redisAddr, "redis-addr", "", "Redis address for shared rate limits")
	f.StringVar(&serverFlags.tlsCert, "tls-cert", "", "Path to TLS certificate file")
	f.StringVar(&serverFlags.tlsKey, "tls-key", "", "Path to TLS key file")
	f.StringVar(&serverFlags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}
