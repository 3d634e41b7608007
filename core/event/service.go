package event

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/clubhub/core"
)

var (
	// errors
	ErrNotFound     = errors.New("event not found")
	ErrInvalidState = core.NewConflictError("this action is not allowed in the event's current state")
)

type (
	Repository interface {
		CreateEvent(ctx context.Context, evt Event) (Event, error)
		GetEvent(ctx context.Context, id int) (Event, error)
		QueryAllEvents(ctx context.Context) ([]Event, error)
		FilterEvents(ctx context.Context, filter QueryFilter) ([]Event, error)
		UpdateEvent(ctx context.Context, evt Event) (Event, error)
		DeleteEvent(ctx context.Context, id int) error
	}

	Service struct {
		repo Repository
		log  core.Logger
	}
)

func NewService(repo Repository, log core.Logger) *Service {
	return &Service{repo: repo, log: log}
}

func (svc *Service) Create(ctx context.Context, organizerID int, ne NewEvent) (Event, error) {
	now := time.Now().UTC()
	evt := Event{
		Title:             ne.Title,
		Description:       ne.Description,
		StartsAt:          ne.StartsAt.UTC(),
		Venue:             ne.Venue,
		OnlineLink:        ne.OnlineLink,
		Category:          ne.Category,
		OrganizerID:       organizerID,
		Status:            StatusUpcoming,
		RegistrationsOpen: true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if ne.EndsAt != nil {
		evt.EndsAt = null.TimeFrom(ne.EndsAt.UTC())
	}
	if ne.Capacity != nil {
		evt.Capacity = null.IntFrom(*ne.Capacity)
	}
	return svc.repo.CreateEvent(ctx, evt)
}

func (svc *Service) GetByID(ctx context.Context, id int) (Event, error) {
	return svc.repo.GetEvent(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter) ([]Event, error) {
	if filter == nil {
		return svc.repo.QueryAllEvents(ctx)
	}
	return svc.repo.FilterEvents(ctx, *filter)
}

func (svc *Service) Update(ctx context.Context, id int, ue UpdateEvent) (Event, error) {
	evt, err := svc.repo.GetEvent(ctx, id)
	if err != nil {
		return Event{}, err
	}
	switch evt.Status {
	case StatusArchived, StatusCancelled:
		return Event{}, ErrInvalidState
	}

	if ue.Title != "" {
		evt.Title = ue.Title
	}
	if ue.Description != nil {
		evt.Description = core.CleanString(*ue.Description)
	}
	if ue.StartsAt != nil {
		evt.StartsAt = ue.StartsAt.UTC()
	}
	if ue.EndsAt != nil {
		evt.EndsAt = null.TimeFrom(ue.EndsAt.UTC())
	}
	if ue.Venue != nil {
		evt.Venue = core.CleanString(*ue.Venue)
	}
	if ue.OnlineLink != nil {
		evt.OnlineLink = core.CleanString(*ue.OnlineLink)
	}
	if ue.Category != nil {
		evt.Category = core.CleanString(*ue.Category, true)
	}
	if ue.ClearCapacity {
		evt.Capacity = null.Int{}
	} else if ue.Capacity != nil {
		if evt.Capacity.Valid && *ue.Capacity < evt.AttendeeCount {
			// allowed; Register() naturally freezes until attrition
			svc.log.Warn("event capacity set below active registrations",
				map[string]interface{}{"event": evt.ID, "capacity": *ue.Capacity, "attendees": evt.AttendeeCount})
		}
		evt.Capacity = null.IntFrom(*ue.Capacity)
	}
	if ue.RegistrationsOpen != nil {
		evt.RegistrationsOpen = *ue.RegistrationsOpen
	}
	evt.UpdatedAt = time.Now().UTC()

	return svc.repo.UpdateEvent(ctx, evt)
}

// Transition moves an event to a new lifecycle status. Archiving closes
// registrations for good.
func (svc *Service) Transition(ctx context.Context, id int, status string) (Event, error) {
	evt, err := svc.repo.GetEvent(ctx, id)
	if err != nil {
		return Event{}, err
	}
	if !CanTransition(evt.Status, status) {
		return Event{}, ErrInvalidState
	}

	evt.Status = status
	switch status {
	case StatusArchived, StatusCancelled:
		evt.RegistrationsOpen = false
	}
	evt.UpdatedAt = time.Now().UTC()

	evt, err = svc.repo.UpdateEvent(ctx, evt)
	if err != nil {
		return Event{}, err
	}
	svc.log.Info("event transitioned", map[string]interface{}{"event": evt.ID, "status": status})
	return evt, nil
}

func (svc *Service) Archive(ctx context.Context, id int) (Event, error) {
	return svc.Transition(ctx, id, StatusArchived)
}

// Delete hard-deletes an event (admin only, enforced at the API layer).
// Registrations referencing it are kept for history; readers must tolerate
// a missing event.
func (svc *Service) Delete(ctx context.Context, id int) error {
	if err := svc.repo.DeleteEvent(ctx, id); err != nil {
		return err
	}
	svc.log.Info("event deleted", map[string]interface{}{"event": id})
	return nil
}
