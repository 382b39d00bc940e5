package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/rideboard/internal/apperror"
	"github.com/sakif/rideboard/internal/model"
	"github.com/sakif/rideboard/internal/repository"
)

// EventService handles events. Only an event's creator may change or remove
// it; the repository folds that check into its WHERE clause.
type EventService struct {
	repo   repository.EventRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewEventService(repo repository.EventRepository, logger *slog.Logger) *EventService {
	return &EventService{repo: repo, logger: logger, now: time.Now}
}

func (s *EventService) Create(ctx context.Context, creatorID string, in model.EventInput) (*model.Event, error) {
	if errs := in.Validate(s.now()); len(errs) > 0 {
		return nil, apperror.Invalid(errs)
	}

	event, err := s.repo.CreateEvent(ctx, creatorID, in)
	if err != nil {
		return nil, fmt.Errorf("service/event: creating event: %w", err)
	}

	s.logger.Info("event created", slog.Int64("id", event.ID), slog.String("creator", creatorID))
	return event, nil
}

func (s *EventService) Get(ctx context.Context, id int64) (*model.Event, error) {
	return s.repo.GetEvent(ctx, id)
}

// List returns upcoming events, or past ones when past is set.
func (s *EventService) List(ctx context.Context, past bool) ([]model.Event, error) {
	return s.repo.ListEvents(ctx, past)
}

func (s *EventService) Update(ctx context.Context, id int64, creatorID string, in model.EventInput) (*model.Event, error) {
	if errs := in.Validate(s.now()); len(errs) > 0 {
		return nil, apperror.Invalid(errs)
	}

	event, err := s.repo.UpdateEvent(ctx, id, creatorID, in)
	if err != nil {
		return nil, err
	}

	s.logger.Info("event updated", slog.Int64("id", id))
	return event, nil
}

// Delete removes the event and every car offered for it.
func (s *EventService) Delete(ctx context.Context, id int64, creatorID string) error {
	if err := s.repo.DeleteEvent(ctx, id, creatorID); err != nil {
		return err
	}

	s.logger.Info("event deleted", slog.Int64("id", id))
	return nil
}
