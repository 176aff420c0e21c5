package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"digestbot/api"
	"digestbot/deduplication"
	"digestbot/events"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve read-only duplicate checks over HTTP",
	Long: `Start the HTTP API on a snapshot of the persisted index. The API never writes
the index; only "digestbot run" does. With --follow the server subscribes to the
run event topic and reloads its snapshot after every committed run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		encoder, closeCache, err := newEncoder(cfg, logger)
		if err != nil {
			return err
		}
		defer closeCache()

		dedup, err := deduplication.NewDeduplicator(encoder, deduplication.DeduplicatorConfig{
			SimilarityThreshold: configuredThreshold(),
			Logger:              &logger,
		})
		if err != nil {
			return err
		}

		serverCfg := api.ServerConfig{Deduplicator: dedup, IndexPath: cfg.Dedup.IndexPath, Logger: &logger}
		if store := openHistory(cfg, logger); store != nil {
			defer store.Close()
			serverCfg.History = store
		}
		server, err := api.NewServer(serverCfg)
		if err != nil {
			return err
		}

		if follow, _ := cmd.Flags().GetBool("follow"); follow {
			if err := followRuns(ctx, cmd, server); err != nil {
				return err
			}
		}

		port, _ := cmd.Flags().GetString("port")
		if port == "" {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              ":" + port,
			Handler:           api.NewRouter(server),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info().Str("addr", srv.Addr).Msg("starting API server")
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		logger.Info().Msg("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

// followRuns reloads the server snapshot whenever a run event arrives.
func followRuns(ctx context.Context, cmd *cobra.Command, server *api.Server) error {
	if len(cfg.Kafka.Brokers) == 0 {
		return errors.New("--follow requires KAFKA_BOOTSTRAP_SERVERS")
	}
	group, _ := cmd.Flags().GetString("group")

	consumer, err := events.NewConsumer(events.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		GroupID: group,
		Logger:  logger,
		Handler: func(_ context.Context, event events.RunCompleted) error {
			logger.Info().Str("run_id", event.RunID).Int("index_size", event.IndexSize).Msg("run completed; reloading index")
			return server.Reload()
		},
	})
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		consumer.Close()
	}()
	return consumer.Start(ctx)
}

func init() {
	serveCmd.Flags().StringP("port", "p", "", "Port to listen on (default from PORT or 8080)")
	serveCmd.Flags().Bool("follow", false, "Reload the index on run events from Kafka")
	serveCmd.Flags().String("group", "digestbot-api", "Kafka consumer group used with --follow")
	rootCmd.AddCommand(serveCmd)
}
