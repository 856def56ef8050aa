package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/ai-in-one/internal/api"
	"github.com/shehryarbajwa/ai-in-one/internal/config"
	ctxmgr "github.com/shehryarbajwa/ai-in-one/internal/context"
	"github.com/shehryarbajwa/ai-in-one/internal/cookies"
	"github.com/shehryarbajwa/ai-in-one/internal/logging"
	"github.com/shehryarbajwa/ai-in-one/pkg/models"
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ai-in-one",
	Short: "Per-service browsing sessions with shared SSO cookies",
	Long: `ai-in-one keeps one browsing context per AI service and shares the
Google sign-in between ChatGPT, Gemini and Perplexity.

Running without a subcommand starts the loopback API server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		logger, err = logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the loopback API server",
	RunE:  runServe,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <service>",
	Short: "Print the browsing context a service runs in",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

var injectCmd = &cobra.Command{
	Use:   "inject <service> <cookies>",
	Short: "Write a \"name=value; name2=value2\" cookie string into the service's context",
	Long: `Write a "name=value; name2=value2" cookie string at the service's provider
domain. By default the cookies land in the service's own context; --context default
seeds the shared context that the external login fallback imports from.`,
	Args: cobra.ExactArgs(2),
	RunE: runInject,
}

var contextsCmd = &cobra.Command{
	Use:   "contexts",
	Short: "List browsing contexts and the services sharing them",
	Args:  cobra.NoArgs,
	RunE:  runContexts,
}

func init() {
	injectCmd.Flags().String("context", "", "target browsing context instead of the service's own (e.g. default)")
	rootCmd.AddCommand(serveCmd, resolveCmd, injectCmd, contextsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.SetupRoutes(d.routes()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.Server.Addr),
			zap.String("cookie_store", cfg.Cookies.Store),
			zap.String("browser_runtime", cfg.Browser.Runtime),
			zap.Duration("pin_duration", cfg.Cookies.PinDuration),
			zap.Duration("login_sync_delay", cfg.Login.SyncDelay))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	registry, contexts, jar, err := openStorage(cfg, logger)
	if err != nil {
		return err
	}
	defer jar.Close()

	service, contextID, err := registry.ResolveName(args[0])
	if err != nil {
		return err
	}
	bc, err := contexts.Ensure(contextID)
	if err != nil {
		return err
	}

	return printJSON(cmd, map[string]any{
		"service":    service,
		"contextId":  contextID,
		"sso":        registry.IsSSO(service),
		"profileDir": bc.ProfileDir,
	})
}

func runInject(cmd *cobra.Command, args []string) error {
	registry, _, jar, err := openStorage(cfg, logger)
	if err != nil {
		return err
	}
	defer jar.Close()

	service, err := models.ParseService(args[0])
	if err != nil {
		return err
	}

	sync := cookies.NewSynchronizer(registry, jar, logger.Named("cookies"), cookies.Options{
		PinDuration: cfg.Cookies.PinDuration,
		PinSession:  cfg.Cookies.PinSession,
	})
	defer sync.Close()

	contextID, _ := cmd.Flags().GetString("context")
	if contextID == "" {
		contextID, err = registry.Resolve(service)
		if err != nil {
			return err
		}
	}

	result, err := sync.InjectInto(cmd.Context(), contextID, service, args[1])
	if err != nil {
		return err
	}
	return printJSON(cmd, result)
}

func runContexts(cmd *cobra.Command, args []string) error {
	registry, _, jar, err := openStorage(cfg, logger)
	if err != nil {
		return err
	}
	defer jar.Close()

	type row struct {
		ID       string             `json:"id"`
		Services []models.ServiceID `json:"services"`
		Cookies  int                `json:"cookies"`
	}

	var rows []row
	for _, id := range append(registry.ContextIDs(), ctxmgr.DefaultContextID) {
		stored, err := jar.Cookies(cmd.Context(), id)
		if err != nil {
			return err
		}
		rows = append(rows, row{ID: id, Services: registry.ServicesFor(id), Cookies: len(stored)})
	}
	return printJSON(cmd, rows)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
