package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/SoNiC-HeRE/Zeotap-Rule-Engine-Assignment/internal/config"
	"github.com/SoNiC-HeRE/Zeotap-Rule-Engine-Assignment/internal/engine"
	"github.com/SoNiC-HeRE/Zeotap-Rule-Engine-Assignment/internal/observability"
	"github.com/SoNiC-HeRE/Zeotap-Rule-Engine-Assignment/internal/server"
	"github.com/SoNiC-HeRE/Zeotap-Rule-Engine-Assignment/internal/storage"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [flags]",
		Short: "run the HTTP rule server.",
		Long: `Run the HTTP rule server until SIGINT or SIGTERM. Flags override values
read from the configuration file.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().StringP("config", "c", "", "configuration file (.yaml, .yml or .json)")
	cmd.Flags().String("addr", "", "listen address, e.g. :8080")
	cmd.Flags().String("db", "", "rule database path, or :memory:")
	return cmd
}

// loadServeConfig reads the configuration file and applies flag overrides.
func loadServeConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.Storage.Path = db
	}
	if getFlag(cmd, "verbose") {
		cfg.Log.Level = "debug"
	}
	return cfg, cfg.Validate()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}
	if err := observability.ConfigureLogger(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}

	store, err := openStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open rule store: %w", err)
	}
	defer store.Close()
	log.WithField("path", cfg.Storage.Path).Info("rule store opened")

	eng := engine.New(store)
	srv := server.New(eng, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := <-errCh; err != nil {
		return err
	}

	log.Info("ruleengine exited gracefully")
	return nil
}

func openStore(path string) (storage.Store, error) {
	if path == ":memory:" {
		return storage.NewMemoryStore(), nil
	}
	return storage.NewSQLiteStore(path)
}
