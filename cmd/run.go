// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/greasewire/greasewire/internal/browser"
	"github.com/greasewire/greasewire/internal/capability"
	"github.com/greasewire/greasewire/internal/inject"
	"github.com/greasewire/greasewire/internal/observability"
	"github.com/greasewire/greasewire/internal/resource"
	"github.com/greasewire/greasewire/internal/scriptstore"
	"github.com/greasewire/greasewire/internal/selector"
	"github.com/greasewire/greasewire/internal/storage"
)

var runCmd = &cobra.Command{
	Use:   "run [url]",
	Short: "Launch (or attach to) a browser and start injecting userscripts.",
	Long: `run starts the injection engine: every frame the browser navigates is
matched against the script store and matching scripts are injected at their
declared run-at stage. With a url argument the tab navigates there first;
otherwise the engine waits for manual navigation.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := scriptstore.New(cfg.Scripts.Dir, logger)
		if err != nil {
			return err
		}
		if len(store.GetAllScripts()) == 0 {
			logger.Warn("The script store is empty; nothing will be injected.",
				zap.String("dir", cfg.Scripts.Dir))
		}

		values, cleanupValues, err := openValueStore(ctx, logger)
		if err != nil {
			return err
		}
		defer cleanupValues()

		loader := resource.NewLoader(cfg.Resource, logger)
		policy := capability.NewConnectPolicy(cfg.Capability.EnforceConnect, logger)

		session, err := browser.NewSession(cfg.Browser, logger)
		if err != nil {
			return err
		}
		defer session.Close()

		coord := inject.New(inject.Options{
			Config:   cfg.Injector,
			Logger:   logger,
			Scripts:  store,
			Selector: selector.New(store, logger),
			Loader:   loader,
			Builder:  capability.NewBuilder(Version),
			Values:   values,
			Relay:    capability.NewXHRRelay(cfg.Capability, policy, logger),
			Eval:     session,
			Tabs:     session,
		})
		defer coord.Close()

		wireStoreEvents(store, coord, loader)
		warmCaches(ctx, store, loader)

		session.Attach(coord)

		if len(args) == 1 {
			if err := session.Navigate(ctx, args[0]); err != nil {
				return fmt.Errorf("navigating to %s: %w", args[0], err)
			}
		}

		logger.Info("Injection engine running; press Ctrl-C to stop.",
			zap.Int("scripts", len(store.GetAllScripts())))
		<-ctx.Done()
		logger.Info("Shutting down.")
		return nil
	},
}

// wireStoreEvents cascades script store mutations into the live engine:
// disabling or removing a script drops its menu proxies, and source changes
// refresh dependency caches.
func wireStoreEvents(store *scriptstore.Store, coord *inject.Coordinator, loader *resource.Loader) {
	store.OnChange(func(ev scriptstore.ChangeEvent) {
		switch ev.Kind {
		case scriptstore.ChangeDisabled, scriptstore.ChangeRemoved:
			coord.Menus().RemoveScript(ev.Script.ID)
		case scriptstore.ChangeAdded, scriptstore.ChangeUpdated:
			go loader.Preload(context.Background(), ev.Script)
		}
	})
}

// warmCaches prefetches every enabled script's requires and resources so
// first navigations do not pay dependency latency.
func warmCaches(ctx context.Context, store *scriptstore.Store, loader *resource.Loader) {
	for _, us := range store.GetAllScripts() {
		if us.Enabled {
			loader.Preload(ctx, us)
		}
	}
}

// openValueStore builds the configured GM value backend. The returned
// cleanup is a no-op for the memory backend.
func openValueStore(ctx context.Context, logger *zap.Logger) (storage.KeyValueStorage, func(), error) {
	switch cfg.Storage.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		pg, err := storage.NewPostgres(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pg, pool.Close, nil
	default:
		return storage.NewMemory(), func() {}, nil
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
}
