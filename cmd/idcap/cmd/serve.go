package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/idcap/internal/capture"
	"github.com/MeKo-Tech/idcap/internal/config"
	"github.com/MeKo-Tech/idcap/internal/server"
	"github.com/MeKo-Tech/idcap/internal/source"
	"github.com/MeKo-Tech/idcap/internal/submit"
	"github.com/spf13/cobra"
)

// Frame source modes for served sessions.
const (
	sourcePush   = "push"
	sourceFrames = "frames"
	sourceCamera = "camera"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for browser capture sessions",
	Long: `Start an HTTP server that runs one capture workflow per session.

The server provides the following endpoints:
  POST /sessions                   - Create a capture session
  GET  /sessions/{id}              - Current session snapshot
  POST /sessions/{id}/{action}     - start, capture, accept, retry, reset, submit, ...
  GET  /sessions/{id}/ws           - Push frames and receive session events
  GET  /sessions/{id}/document.pdf - Accepted sides as PDF
  GET  /auth/login                 - Sign in through the identity provider
  GET  /health                     - Health check endpoint
  GET  /metrics                    - Prometheus metrics

Examples:
  idcap serve
  idcap serve --port 8080
  idcap serve --source frames --frames-dir ./testdata/frames/clean`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}

		host := cfg.Server.Host
		if cmd.Flags().Changed("host") {
			host, _ = cmd.Flags().GetString("host")
		}

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		corsOrigin := cfg.Server.CORSOrigin
		if cmd.Flags().Changed("cors-origin") {
			corsOrigin, _ = cmd.Flags().GetString("cors-origin")
		}

		maxUploadSize := cfg.Server.MaxUploadMB
		if cmd.Flags().Changed("max-upload-size") {
			maxUploadSize, _ = cmd.Flags().GetInt("max-upload-size")
		}

		timeout := cfg.Server.TimeoutSec
		if cmd.Flags().Changed("timeout") {
			timeout, _ = cmd.Flags().GetInt("timeout")
		}

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if cmd.Flags().Changed("shutdown-timeout") {
			shutdownTimeout, _ = cmd.Flags().GetInt("shutdown-timeout")
		}

		sessionTTL := cfg.Server.SessionTTLMin
		if cmd.Flags().Changed("session-ttl") {
			sessionTTL, _ = cmd.Flags().GetInt("session-ttl")
		}

		framesDir := cfg.Camera.FramesDir
		if cmd.Flags().Changed("frames-dir") {
			framesDir, _ = cmd.Flags().GetString("frames-dir")
		}

		submissionURL := cfg.Submission.URL
		if cmd.Flags().Changed("submission-url") {
			submissionURL, _ = cmd.Flags().GetString("submission-url")
		}

		rateLimitEnabled := cfg.Server.RateLimit.Enabled
		if cmd.Flags().Changed("rate-limit-enabled") {
			rateLimitEnabled, _ = cmd.Flags().GetBool("rate-limit-enabled")
		}

		requestsPerMinute := cfg.Server.RateLimit.RequestsPerMinute
		if cmd.Flags().Changed("requests-per-minute") {
			requestsPerMinute, _ = cmd.Flags().GetInt("requests-per-minute")
		}

		requestsPerHour := cfg.Server.RateLimit.RequestsPerHour
		if cmd.Flags().Changed("requests-per-hour") {
			requestsPerHour, _ = cmd.Flags().GetInt("requests-per-hour")
		}

		maxRequestsPerDay := cfg.Server.RateLimit.MaxRequestsPerDay
		if cmd.Flags().Changed("max-requests-per-day") {
			maxRequestsPerDay, _ = cmd.Flags().GetInt("max-requests-per-day")
		}

		mode, _ := cmd.Flags().GetString("source")

		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", port)
		}
		if sessionTTL <= 0 {
			return fmt.Errorf("invalid session ttl: %d (must be positive)", sessionTTL)
		}

		sources, err := sessionSources(mode, framesDir)
		if err != nil {
			return err
		}
		capCfg, err := cfg.ToCaptureConfig()
		if err != nil {
			return err
		}

		serverConfig := server.Config{
			Host:        host,
			Port:        port,
			CORSOrigin:  corsOrigin,
			MaxUploadMB: int64(maxUploadSize),
			TimeoutSec:  timeout,
			Language:    cfg.Language,
			SessionTTL:  time.Duration(sessionTTL) * time.Minute,
			Capture:     capCfg,
			Sources:     sources,
			Token:       cfg.Submission.Token,
			Auth:        cfg.Auth,
			RateLimit: server.RateLimitConfig{
				Enabled:           rateLimitEnabled,
				RequestsPerMinute: requestsPerMinute,
				RequestsPerHour:   requestsPerHour,
				MaxRequestsPerDay: maxRequestsPerDay,
			},
		}
		if submissionURL != "" {
			serverConfig.Submitter = submit.NewClient(submissionURL, cfg.SubmissionTimeout())
		} else {
			slog.Warn("No submission URL configured; submit will fail")
		}

		captureServer, err := server.NewServer(serverConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}
		defer func() { _ = captureServer.Close() }()

		mux := http.NewServeMux()
		captureServer.SetupRoutes(mux)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// WriteTimeout is left unset: websocket connections are long-lived.
		httpServer := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", host, port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go captureServer.RunJanitor(ctx, janitorInterval(serverConfig.SessionTTL))

		go func() {
			slog.Info("Starting capture server", "host", host, "port", port, "source", mode)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("Context cancelled, initiating shutdown")
		}

		slog.Info("Starting graceful shutdown", "timeout", fmt.Sprintf("%ds", shutdownTimeout))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(shutdownTimeout)*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server shutdown completed")
		}

		if err := captureServer.Close(); err != nil {
			slog.Error("Server cleanup error", "error", err)
		}

		slog.Info("Graceful shutdown completed")
		return nil
	},
}

// sessionSources picks where served sessions read frames from.
func sessionSources(mode, framesDir string) (server.SourceFactory, error) {
	switch mode {
	case "", sourcePush:
		return server.PushSources, nil
	case sourceFrames:
		if framesDir == "" {
			return nil, errors.New("--source frames needs --frames-dir or camera.frames_dir")
		}
		if _, err := source.NewDirSource(framesDir); err != nil {
			return nil, err
		}
		return server.DirSources(framesDir), nil
	case sourceCamera:
		return func() (source.Source, *source.PushSource, error) {
			s, err := source.NewCameraSource()
			return s, nil, err
		}, nil
	default:
		return nil, fmt.Errorf("invalid source: %s (must be one of: %s, %s, %s)", mode, sourcePush, sourceFrames, sourceCamera)
	}
}

// janitorInterval checks for idle sessions a few times per TTL.
func janitorInterval(ttl time.Duration) time.Duration {
	return max(ttl/4, 10*time.Second)
}

// captureConfigFor is the workflow configuration with the document type flag applied.
func captureConfigFor(cmd *cobra.Command, cfg *config.Config) (capture.Config, error) {
	if cmd.Flags().Changed("doc-type") {
		cfg.Document.Type, _ = cmd.Flags().GetString("doc-type")
	}
	return cfg.ToCaptureConfig()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 10, "maximum websocket frame size in MB")
	serveCmd.Flags().Int("timeout", 30, "timeout for blocking session actions in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().Int("session-ttl", 15, "minutes after which idle sessions are closed")
	serveCmd.Flags().String("source", sourcePush, "session frame source: push, frames or camera")
	serveCmd.Flags().String("frames-dir", "", "directory of still frames for --source frames")
	serveCmd.Flags().String("submission-url", "", "processing endpoint for submitted images")
	// Rate limiting flags
	serveCmd.Flags().Bool("rate-limit-enabled", false, "enable rate limiting")
	serveCmd.Flags().Int("requests-per-minute", 60, "maximum requests per minute per client")
	serveCmd.Flags().Int("requests-per-hour", 1000, "maximum requests per hour per client")
	serveCmd.Flags().Int("max-requests-per-day", 5000, "maximum requests per day per client")
}
