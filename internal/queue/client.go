package queue

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
)

// Client is the producer side used by request handlers.
type Client struct {
	wq     *WorkQueue
	logger *slog.Logger
}

func NewClient(wq *WorkQueue, logger *slog.Logger) *Client {
	return &Client{wq: wq, logger: logger}
}

// InsertJob serializes job under a fresh random id and pushes it. A
// duplicate id is logged and reported as ErrAlreadyQueued so callers can
// tell it apart from a Redis failure.
func (c *Client) InsertJob(ctx context.Context, job Job) error {
	data, err := MarshalJob(job)
	if err != nil {
		return err
	}

	item := Item{ID: uuid.NewString(), Data: data}
	err = c.wq.AddItem(ctx, item)
	switch {
	case errors.Is(err, ErrAlreadyQueued):
		c.logger.Warn("job already queued", slog.String("id", item.ID), slog.String("type", job.kind()))
		return err
	case err != nil:
		return err
	}

	c.logger.Debug("job queued", slog.String("id", item.ID), slog.String("type", job.kind()))
	return nil
}
