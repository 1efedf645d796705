package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/Camsync/internal/config"
	"github.com/BioHazard786/Camsync/internal/logging"
	"github.com/BioHazard786/Camsync/internal/relay"
	"github.com/BioHazard786/Camsync/internal/server"
)

var (
	flagRelayAddr  string
	flagRelayRedis string
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the signaling relay",
	Long: `Run the reference signaling relay. Rooms live in memory; pass --redis to share
role claims between relay instances.`,
	Args: cobra.NoArgs,
	PreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(slog.LevelInfo)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadRelay(config.RelayOptions{
			ConfigFile: flagConfig,
			Addr:       flagRelayAddr,
			RedisAddr:  flagRelayRedis,
		})
		if err != nil {
			return err
		}
		return runRelay(cmd.Context(), cfg)
	},
}

func runRelay(ctx context.Context, cfg *config.RelayConfig) error {
	log := slog.Default().With("component", "relay")

	opts := []relay.Option{relay.WithLogger(slog.Default())}
	if cfg.RedisAddr != "" {
		reg, err := relay.NewRedisRegistry(ctx, relay.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.RoomTTL,
		})
		if err != nil {
			return err
		}
		defer reg.Close()
		opts = append(opts, relay.WithRegistry(reg))
		log.Info("using redis registry", "addr", cfg.RedisAddr)
	}

	hub := relay.NewHub(opts...)
	go hub.Run(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.NewRouter(hub, slog.Default()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("starting signaling relay", "addr", cfg.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-hub.Done()
	return nil
}

func init() {
	rootCmd.AddCommand(relayCmd)
	relayCmd.Flags().StringVar(&flagRelayAddr, "addr", "", "Listen address (default :8080)")
	relayCmd.Flags().StringVar(&flagRelayRedis, "redis", "", "Redis address for shared room claims")
}
