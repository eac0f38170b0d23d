package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"stake-group/chain"
	"stake-group/config"
	"stake-group/db"
	"stake-group/handlers"
	"stake-group/hooks"
	"stake-group/logger"
	"stake-group/metrics"
	"stake-group/routers"
	"stake-group/stake"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:   "stake-group",
		Short: "Stake-weighted membership group",
		Long: `Stake-weighted membership group.

Members bond tokens for voting weight, unbond into time-locked claims and
claim the tokens back once the unbonding period has passed. Every weight
change is kept in a height-indexed history.

Commands:
  stake-group serve        Run the HTTP server`,
	}
	rootCmd.AddCommand(newServeCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func newServeCmd() *cobra.Command {
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long: `Run the HTTP server.

On first start the group is instantiated from the contract section of the
config. Later starts reuse the stored config and ignore that section.

Examples:
  stake-group serve
  stake-group serve --config /etc/stake/config.yaml --port 9000
  STAKE_LOG_LEVEL=debug stake-group serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "config file path (default config/config.yaml)")
	config.BindServeFlags(cmd, v)
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	if err := logger.InitLogger(cfg.Log.AppLogFile, cfg.Log.Level); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Logger.Sync() }()

	logger.Logger.Info("Starting stake group server...")

	ldb, err := db.NewLevelDB(cfg.LevelDB.Path)
	if err != nil {
		return fmt.Errorf("open leveldb: %w", err)
	}
	defer ldb.Close()

	genesis, err := cfg.Chain.Genesis()
	if err != nil {
		return err
	}
	source, err := chain.NewClockSource(clockwork.NewRealClock(), cfg.Chain.GenesisHeight, genesis, cfg.Chain.BlockTime)
	if err != nil {
		return fmt.Errorf("chain source: %w", err)
	}

	m := metrics.NewMetrics()
	notifier := hooks.NewHTTPNotifier(&http.Client{}, cfg.Hooks.Timeout, m)
	defer notifier.Wait()

	engine := stake.NewEngine(ldb, source,
		stake.WithNotifier(notifier),
		stake.WithMetrics(m),
		stake.WithCustody(cfg.Contract.Address),
	)

	instantiated, err := engine.Instantiated()
	if err != nil {
		return fmt.Errorf("read group config: %w", err)
	}
	if !instantiated {
		if err := engine.Instantiate(ctx, cfg.Contract.InstantiateMsg()); err != nil {
			return fmt.Errorf("instantiate group: %w", err)
		}
	}

	var limiter *handlers.RateLimiter
	if cfg.Server.RateLimit > 0 {
		limiter = handlers.NewRateLimiter(rate.Limit(cfg.Server.RateLimit), cfg.Server.RateBurst)
	}
	h := handlers.NewHandler(engine, m, limiter)

	r := mux.NewRouter()
	routers.RegisterRoutes(r, h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Logger.Info("Server running on port", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Logger.Info("Shutdown signal received, exiting...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
