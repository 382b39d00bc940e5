package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sakif/rideboard/internal/config"
	"github.com/sakif/rideboard/internal/model"
	"github.com/sakif/rideboard/internal/pings"
	"github.com/sakif/rideboard/internal/queue"
	sqliteRepo "github.com/sakif/rideboard/internal/repository/sqlite"
	"github.com/sakif/rideboard/internal/worker"
)

func newWorkerCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume notification jobs and send pings",
		Long: `Lease jobs from the Redis work queue and deliver join, leave, added
and removed pings. Several workers may run against the same queue; each job
is leased to one of them at a time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(opts)
			if err != nil {
				return err
			}
			if err := cfg.ValidateWorker(); err != nil {
				return err
			}
			return runWorker(cfg, logger)
		},
	}
}

func runWorker(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signalContext()
	defer stop()

	// Read-only use: event names, drivers and rider emails.
	store, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	rdb, err := queue.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer rdb.Close()

	sender := pings.New(pings.Config{
		BaseURL: cfg.PingsBaseURL,
		Token:   cfg.PingsToken,
		Routes: pings.Routes{
			Join:   cfg.PingsJoinRoute,
			Leave:  cfg.PingsLeaveRoute,
			Add:    cfg.PingsAddRoute,
			Remove: cfg.PingsRemoveRoute,
		},
	}, logger)

	w := worker.New(queue.NewWorkQueue(rdb, cfg.QueuePrefix), store, sender, worker.Config{
		Lease:          cfg.WorkerLease,
		Realm:          model.RealmCSH,
		UsernameSuffix: cfg.PingsUsernameSuffix,
	}, logger)

	return w.Run(ctx)
}
