package dummydb

import (
	"context"
	"sort"
	"strings"

	"github.com/trezcool/clubhub/core/event"
)

type eventRepository struct {
	db *eventTable
}

var _ event.Repository = (*eventRepository)(nil) // interface compliance check

func NewEventRepository(db *DB) event.Repository {
	return &eventRepository{db: db.event}
}

func (repo *eventRepository) query() []event.Event {
	events := make([]event.Event, 0, len(repo.db.table))
	for _, e := range repo.db.table {
		events = append(events, *e)
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].StartsAt.Equal(events[j].StartsAt) {
			return events[i].StartsAt.Before(events[j].StartsAt)
		}
		return events[i].ID < events[j].ID
	})
	return events
}

func (repo *eventRepository) CreateEvent(_ context.Context, evt event.Event) (event.Event, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.nextID++
	evt.ID = repo.db.nextID
	evt.AttendeeCount = 0
	repo.db.table[evt.ID] = &evt
	return evt, nil
}

func (repo *eventRepository) GetEvent(_ context.Context, id int) (event.Event, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if evt, ok := repo.db.table[id]; ok {
		return *evt, nil
	}
	return event.Event{}, event.ErrNotFound
}

func (repo *eventRepository) QueryAllEvents(_ context.Context) ([]event.Event, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return repo.query(), nil
}

func (repo *eventRepository) FilterEvents(_ context.Context, filter event.QueryFilter) ([]event.Event, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	events := repo.query()

	if filter.Search != "" {
		var filtered []event.Event
		for _, e := range events {
			if strings.Contains(strings.ToLower(e.Title), strings.ToLower(filter.Search)) ||
				strings.Contains(strings.ToLower(e.Description), strings.ToLower(filter.Search)) {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	if events != nil && filter.Category != "" {
		var filtered []event.Event
		for _, e := range events {
			if e.Category == filter.Category {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	if events != nil && len(filter.Statuses) > 0 {
		var filtered []event.Event
		for _, e := range events {
			for _, s := range filter.Statuses {
				if e.Status == s {
					filtered = append(filtered, e)
					break
				}
			}
		}
		events = filtered
	}
	if events != nil && filter.OrganizerID != 0 {
		var filtered []event.Event
		for _, e := range events {
			if e.OrganizerID == filter.OrganizerID {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	return events, nil
}

// UpdateEvent saves evt's mutable fields; the attendee counter only moves
// through the registration ledger.
func (repo *eventRepository) UpdateEvent(_ context.Context, evt event.Event) (event.Event, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	origEvt, ok := repo.db.table[evt.ID]
	if !ok {
		return event.Event{}, event.ErrNotFound
	}
	evt.AttendeeCount = origEvt.AttendeeCount
	repo.db.table[evt.ID] = &evt
	return evt, nil
}

func (repo *eventRepository) DeleteEvent(_ context.Context, id int) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[id]; !ok {
		return event.ErrNotFound
	}
	delete(repo.db.table, id)
	return nil
}
