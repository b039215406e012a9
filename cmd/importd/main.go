// Trade history importer CLI.
//
// Progressively imports executed trades from exchange sub-accounts into a
// local DuckDB database, with resumable per-account cursors.
//
// Usage:
//
//	importd run --config config.yaml            full import of all accounts
//	importd run --resume --account main-bybit   resume one account
//	importd serve --addr :8080                  dashboard HTTP API
//	importd status                              aggregate import status
//	importd progress                            per-account progress table
//	importd reset --yes                         delete all imported state
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/OnlineSolution24/trading-dashboard-sub000/internal/config"
	"github.com/OnlineSolution24/trading-dashboard-sub000/internal/exchange"
	"github.com/OnlineSolution24/trading-dashboard-sub000/internal/importer"
	"github.com/OnlineSolution24/trading-dashboard-sub000/internal/logger"
	"github.com/OnlineSolution24/trading-dashboard-sub000/internal/models"
	"github.com/OnlineSolution24/trading-dashboard-sub000/internal/server"
	"github.com/OnlineSolution24/trading-dashboard-sub000/internal/storage"
)

const version = "1.0.0"

type app struct {
	cfg        *config.AppConfig
	logger     *slog.Logger
	store      storage.FullStorage
	controller *importer.Controller
}

var (
	flagConfig  string
	flagAccount string
	flagResume  bool
	flagAddr    string
	flagFormat  string
	flagYes     bool
)

func main() {
	root := &cobra.Command{
		Use:          "importd",
		Short:        "Progressive trade history importer for exchange sub-accounts",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "config.yaml", "path to config file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run an import in the foreground until it finishes or is interrupted",
		RunE:  runImport,
	}
	runCmd.Flags().StringVarP(&flagAccount, "account", "a", "", "import a single account by name")
	runCmd.Flags().BoolVarP(&flagResume, "resume", "r", false, "resume from saved cursors instead of a full re-import")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard HTTP API",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (overrides config)")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the aggregate import status",
		RunE:  runStatus,
	}
	statusCmd.Flags().StringVarP(&flagFormat, "format", "f", "table", "output format: table or json")

	progressCmd := &cobra.Command{
		Use:   "progress",
		Short: "Show per-account import progress",
		RunE:  runProgress,
	}
	progressCmd.Flags().StringVarP(&flagFormat, "format", "f", "table", "output format: table or json")

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all imported trades, progress and session history",
		RunE:  runReset,
	}
	resetCmd.Flags().BoolVarP(&flagYes, "yes", "y", false, "skip the confirmation prompt")

	root.AddCommand(runCmd, serveCmd, statusCmd, progressCmd, resetCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap loads configuration and wires storage, exchange adapters, engine
// and controller. The returned cleanup closes the store.
func bootstrap(ctx context.Context) (*app, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	store, err := openStorage(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Initialize(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("initialize storage: %w", err)
	}

	registry := exchange.NewAdapterRegistry(logger.ForComponent(log, "exchange"))
	engine := importer.NewEngine(store, registry,
		importer.OptionsFromConfig(cfg.Importer),
		logger.ForComponent(log, "engine"))
	controller := importer.NewController(engine, store, cfg.ResolveAccounts(),
		logger.ForComponent(log, "controller"))

	if err := controller.Reconcile(ctx); err != nil {
		log.Warn("session reconciliation failed", "error", err)
	}

	cleanup := func() {
		if err := store.Close(); err != nil {
			log.Error("failed to close storage", "error", err)
		}
	}
	return &app{cfg: cfg, logger: log, store: store, controller: controller}, cleanup, nil
}

func loadConfig() (*config.AppConfig, error) {
	if _, err := os.Stat(flagConfig); err != nil {
		if os.IsNotExist(err) && flagConfig == "config.yaml" {
			// Default path missing: run with defaults so read-only
			// commands still work against an existing database.
			return config.Default(), nil
		}
		return nil, fmt.Errorf("config file %s: %w", flagConfig, err)
	}
	return config.Load(flagConfig)
}

func openStorage(cfg *config.AppConfig, log *slog.Logger) (storage.FullStorage, error) {
	switch cfg.Storage.Type {
	case "memory":
		return storage.NewMemoryStorage(logger.ForComponent(log, "storage")), nil
	case "duckdb":
		return storage.NewDuckDBStorage(cfg.Storage.Path, logger.ForComponent(log, "storage"))
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Storage.Type)
	}
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, cleanup, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	sessionID, err := a.controller.StartImport(flagAccount, flagResume)
	if err != nil {
		return err
	}
	fmt.Printf("import session %s started\n", sessionID)

	// Forward the interrupt as a cooperative stop, then wait for the
	// engine to finish the page in flight.
	go func() {
		<-ctx.Done()
		if err := a.controller.StopImport(); err != nil {
			a.logger.Debug("stop after interrupt", "error", err)
		}
	}()
	a.controller.Wait()

	session, err := a.controller.CurrentSession(context.Background())
	if err != nil {
		return err
	}
	if session != nil {
		fmt.Printf("session %s: %s, %d/%d accounts completed, %d new trades\n",
			session.ID, session.Status, session.CompletedAccounts, session.TotalAccounts, session.TotalTrades)
		if session.Status == models.SessionError {
			return fmt.Errorf("import failed: %s", session.ErrorMessage)
		}
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, cleanup, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	addr := a.cfg.Server.Addr
	if flagAddr != "" {
		addr = flagAddr
	}

	srv := server.New(a.controller, a.store, logger.ForComponent(a.logger, "http"))
	if err := srv.Run(ctx, addr); err != nil {
		return err
	}

	// Let a running session stop cleanly before the store closes.
	if err := a.controller.StopImport(); err == nil {
		a.controller.Wait()
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, cleanup, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	status, err := importer.StatusOf(ctx, a.controller, false)
	if err != nil {
		return err
	}

	if strings.EqualFold(flagFormat, "json") {
		return printJSON(status)
	}

	fmt.Printf("running:            %v\n", status.Running)
	fmt.Printf("accounts:           %d total, %d completed, %d failed\n",
		status.TotalAccounts, status.CompletedAccounts, status.ErrorAccounts)
	fmt.Printf("imported trades:    %d\n", status.TotalTrades)
	fmt.Printf("percent complete:   %.1f%%\n", status.PercentComplete)
	if status.CurrentAccount != "" {
		fmt.Printf("current account:    %s\n", status.CurrentAccount)
	}
	if status.ETASeconds > 0 {
		fmt.Printf("estimated time:     %s\n", time.Duration(status.ETASeconds)*time.Second)
	}
	if s := status.Session; s != nil {
		fmt.Printf("last session:       %s (%s, started %s)\n",
			s.ID, s.Status, s.StartTime.Format(time.RFC3339))
	}
	return nil
}

func runProgress(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, cleanup, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	progress, err := a.controller.AllProgress(ctx)
	if err != nil {
		return err
	}

	if strings.EqualFold(flagFormat, "json") {
		return printJSON(progress)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACCOUNT\tEXCHANGE\tSTATUS\tTRADES\tERRORS\tLAST UPDATE")
	for _, p := range progress {
		lastUpdate := "-"
		if !p.LastUpdate.IsZero() {
			lastUpdate = p.LastUpdate.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			p.Account, p.Exchange, p.Status, p.TradeCount, p.ErrorCount, lastUpdate)
	}
	return w.Flush()
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, cleanup, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if !flagYes {
		fmt.Print("This deletes all imported trades, progress and sessions. Type 'yes' to continue: ")
		var answer string
		fmt.Scanln(&answer)
		if !strings.EqualFold(answer, "yes") {
			fmt.Println("aborted")
			return nil
		}
	}

	if err := a.controller.ResetImport(ctx); err != nil {
		return err
	}
	fmt.Println("import state reset")
	return nil
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
