// Package worker consumes the notification queue and turns roster changes
// into pings.
//
// DELIVERY SEMANTICS:
// A job is completed only after it succeeds or fails in a way a retry cannot
// fix (unparseable payload, a referenced row that no longer exists). Any
// other failure leaves the job leased; once the lease expires the queue
// hands it out again, to this process or another one.
//
// A RosterUpdate can fan out to many riders. Each successful ping is written
// to the job's delivery ledger before moving on, so when a later ping in the
// same job fails and the job comes back, riders that were already told are
// skipped. Every affected rider is notified at least once; the ledger keeps
// "more than once" to the window between a send and its ledger write.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/rideboard/internal/model"
	"github.com/sakif/rideboard/internal/queue"
	"github.com/sakif/rideboard/internal/repository"
)

// Queue is the consumer side of the work queue.
type Queue interface {
	Lease(ctx context.Context, block, leaseFor time.Duration) (*queue.Item, error)
	Complete(ctx context.Context, item *queue.Item) (bool, error)
	MarkDelivered(ctx context.Context, item *queue.Item, key string) error
	Delivered(ctx context.Context, item *queue.Item, key string) (bool, error)
}

// Sender delivers the four kinds of ping.
type Sender interface {
	SendJoin(ctx context.Context, to, joiner, event string) error
	SendLeave(ctx context.Context, to, leaver, event string) error
	SendAdded(ctx context.Context, to, driver, event string) error
	SendRemoved(ctx context.Context, to, driver, event string) error
}

// Config tunes a Worker. Zero values fall back to the defaults below.
type Config struct {
	Lease          time.Duration
	Realm          model.Realm // only users of this realm are pinged
	UsernameSuffix string      // trimmed from email to get the pings username
	Backoff        time.Duration
}

const (
	DefaultLease          = 5 * time.Second
	DefaultUsernameSuffix = "@csh.rit.edu"
	defaultBackoff        = time.Second
)

// Worker runs a single sequential consume loop. Run several processes to
// scale; leases keep them from processing the same job at once.
type Worker struct {
	queue  Queue
	dir    repository.Directory
	sender Sender
	logger *slog.Logger
	cfg    Config
}

func New(q Queue, dir repository.Directory, sender Sender, cfg Config, logger *slog.Logger) *Worker {
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}
	if cfg.Realm == "" {
		cfg.Realm = model.RealmCSH
	}
	if cfg.UsernameSuffix == "" {
		cfg.UsernameSuffix = DefaultUsernameSuffix
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	return &Worker{queue: q, dir: dir, sender: sender, logger: logger, cfg: cfg}
}

// Run leases and handles jobs until ctx is cancelled. Queue errors are
// logged and retried after a short backoff; they never end the loop.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", slog.Duration("lease", w.cfg.Lease), slog.String("realm", string(w.cfg.Realm)))

	for {
		item, err := w.queue.Lease(ctx, 0, w.cfg.Lease)
		if ctx.Err() != nil {
			w.logger.Info("worker stopping")
			return nil
		}
		if err != nil {
			w.logger.Error("failed to lease job", slog.String("error", err.Error()))
			if !sleep(ctx, w.cfg.Backoff) {
				return nil
			}
			continue
		}
		if item == nil {
			continue
		}

		_ = w.Handle(ctx, item)
	}
}

// Handle processes one leased item and settles it: success and permanent
// failures complete it, retryable failures leave it leased. The processing
// error, if any, is returned for the caller's information.
func (w *Worker) Handle(ctx context.Context, item *queue.Item) error {
	start := time.Now()
	err := w.process(ctx, item)

	log := w.logger.With(slog.String("job", item.ID), slog.Duration("duration", time.Since(start)))
	switch {
	case err == nil:
		log.Info("job done")
	case ShouldRetry(err):
		log.Warn("job failed, will retry after lease expires", slog.String("error", err.Error()))
		return err
	default:
		log.Error("job failed permanently, dropping", slog.String("error", err.Error()))
	}

	if _, cerr := w.queue.Complete(ctx, item); cerr != nil {
		// The lease will expire and the job will run again.
		log.Error("failed to complete job", slog.String("error", cerr.Error()))
	}
	return err
}

func (w *Worker) process(ctx context.Context, item *queue.Item) error {
	job, err := queue.UnmarshalJob(item.Data)
	if err != nil {
		return Permanent(err)
	}

	switch j := job.(type) {
	case queue.JoinJob:
		return w.simple(ctx, j.EventID, j.CarID, j.RiderID, w.sender.SendJoin)
	case queue.LeaveJob:
		return w.simple(ctx, j.EventID, j.CarID, j.RiderID, w.sender.SendLeave)
	case queue.RosterUpdateJob:
		return w.rosterUpdate(ctx, item, j)
	default:
		return Permanent(fmt.Errorf("unhandled job type %T", job))
	}
}

type sendFunc func(ctx context.Context, to, name, event string) error

// simple notifies the driver about one rider joining or leaving.
func (w *Worker) simple(ctx context.Context, eventID, carID int64, riderID string, send sendFunc) error {
	eventName, err := w.dir.EventName(ctx, eventID)
	if err != nil {
		return classify(err)
	}
	driver, err := w.dir.CarDriver(ctx, carID)
	if err != nil {
		return classify(err)
	}
	if driver.Realm != w.cfg.Realm {
		return nil
	}
	rider, err := w.dir.GetUserByID(ctx, riderID)
	if err != nil {
		return classify(err)
	}

	if err := send(ctx, w.username(*driver), rider.Name, eventName); err != nil {
		return Retryable(err)
	}
	return nil
}

// rosterUpdate pings every rider in the symmetric difference of the old and
// new rosters: "removed" first, then "added". One rider's failure does not
// stop the others.
func (w *Worker) rosterUpdate(ctx context.Context, item *queue.Item, j queue.RosterUpdateJob) error {
	diff := model.DiffRiders(j.OldRiders, j.NewRiders)
	if diff.Empty() {
		return nil
	}

	eventName, err := w.dir.EventName(ctx, j.EventID)
	if err != nil {
		return classify(err)
	}
	driver, err := w.dir.CarDriver(ctx, j.CarID)
	if err != nil {
		return classify(err)
	}

	affected := make([]string, 0, len(diff.Removed)+len(diff.Added))
	affected = append(affected, diff.Removed...)
	affected = append(affected, diff.Added...)
	users, err := w.dir.UsersByID(ctx, affected)
	if err != nil {
		return classify(err)
	}

	type delivery struct {
		kind string
		ids  []string
		send sendFunc
	}
	deliveries := []delivery{
		{"removed", diff.Removed, w.sender.SendRemoved},
		{"added", diff.Added, w.sender.SendAdded},
	}

	var transient, permanent []error
	for _, d := range deliveries {
		for _, id := range d.ids {
			user, ok := users[id]
			if !ok {
				permanent = append(permanent, fmt.Errorf("%s rider %s not found", d.kind, id))
				continue
			}
			if user.Realm != w.cfg.Realm {
				continue
			}

			key := d.kind + ":" + id
			done, err := w.queue.Delivered(ctx, item, key)
			if err != nil {
				transient = append(transient, err)
				continue
			}
			if done {
				continue
			}

			if err := d.send(ctx, w.username(user), driver.Name, eventName); err != nil {
				transient = append(transient, fmt.Errorf("%s ping to %s: %w", d.kind, id, err))
				continue
			}
			if err := w.queue.MarkDelivered(ctx, item, key); err != nil {
				w.logger.Warn("failed to record delivery",
					slog.String("job", item.ID), slog.String("key", key), slog.String("error", err.Error()))
			}
		}
	}

	switch {
	case len(transient) > 0:
		return Retryable(errors.Join(append(transient, permanent...)...))
	case len(permanent) > 0:
		return Permanent(errors.Join(permanent...))
	}
	return nil
}

func (w *Worker) username(u model.User) string {
	return strings.TrimSuffix(u.Email, w.cfg.UsernameSuffix)
}

// sleep waits for d or until ctx is done, reporting whether it slept fully.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
