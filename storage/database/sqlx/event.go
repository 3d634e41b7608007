package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/clubhub/core/event"
)

type eventRepository struct {
	db *sqlx.DB
}

var _ event.Repository = (*eventRepository)(nil) // interface compliance check

func NewEventRepository(db *sqlx.DB) event.Repository {
	return &eventRepository{db: db}
}

type eventRow struct {
	ID                int       `db:"id"`
	Title             string    `db:"title"`
	Description       string    `db:"description"`
	StartsAt          time.Time `db:"starts_at"`
	EndsAt            null.Time `db:"ends_at"`
	Venue             string    `db:"venue"`
	OnlineLink        string    `db:"online_link"`
	Category          string    `db:"category"`
	Capacity          null.Int  `db:"capacity"`
	OrganizerID       int       `db:"organizer_id"`
	Status            string    `db:"status"`
	RegistrationsOpen bool      `db:"registrations_open"`
	AttendeeCount     int       `db:"attendee_count"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

const eventColumns = `id, title, description, starts_at, ends_at, venue, online_link,
	category, capacity, organizer_id, status, registrations_open, attendee_count,
	created_at, updated_at`

func (r eventRow) toEvent() event.Event {
	return event.Event{
		ID:                r.ID,
		Title:             r.Title,
		Description:       r.Description,
		StartsAt:          r.StartsAt,
		EndsAt:            r.EndsAt,
		Venue:             r.Venue,
		OnlineLink:        r.OnlineLink,
		Category:          r.Category,
		Capacity:          r.Capacity,
		OrganizerID:       r.OrganizerID,
		Status:            r.Status,
		RegistrationsOpen: r.RegistrationsOpen,
		AttendeeCount:     r.AttendeeCount,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func toEvents(rows []eventRow) []event.Event {
	events := make([]event.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toEvent())
	}
	return events
}

func (repo *eventRepository) CreateEvent(ctx context.Context, evt event.Event) (event.Event, error) {
	ctx, cancel := dbCtx(ctx)
	defer cancel()

	var row eventRow
	err := repo.db.GetContext(ctx, &row, `
		INSERT INTO event (title, description, starts_at, ends_at, venue, online_link,
		                   category, capacity, organizer_id, status, registrations_open,
		                   attendee_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, $12, $13)
		RETURNING `+eventColumns,
		evt.Title, evt.Description, evt.StartsAt, evt.EndsAt, evt.Venue, evt.OnlineLink,
		evt.Category, evt.Capacity, evt.OrganizerID, evt.Status, evt.RegistrationsOpen,
		evt.CreatedAt, evt.UpdatedAt,
	)
	if err != nil {
		return event.Event{}, wrapErr(err, "creating event")
	}
	return row.toEvent(), nil
}

func (repo *eventRepository) GetEvent(ctx context.Context, id int) (event.Event, error) {
	ctx, cancel := dbCtx(ctx)
	defer cancel()

	var row eventRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+eventColumns+` FROM event WHERE id = $1`, id); err != nil {
		if noRows(err) {
			return event.Event{}, event.ErrNotFound
		}
		return event.Event{}, wrapErr(err, "getting event")
	}
	return row.toEvent(), nil
}

func (repo *eventRepository) QueryAllEvents(ctx context.Context) ([]event.Event, error) {
	ctx, cancel := dbCtx(ctx)
	defer cancel()

	var rows []eventRow
	if err := repo.db.SelectContext(ctx, &rows, `SELECT `+eventColumns+` FROM event ORDER BY starts_at, id`); err != nil {
		return nil, wrapErr(err, "querying events")
	}
	return toEvents(rows), nil
}

func (repo *eventRepository) FilterEvents(ctx context.Context, filter event.QueryFilter) ([]event.Event, error) {
	ctx, cancel := dbCtx(ctx)
	defer cancel()

	q := `SELECT ` + eventColumns + ` FROM event WHERE TRUE`
	args := make([]interface{}, 0, 4)
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + itoa(len(args))
	}

	if filter.Search != "" {
		p := arg("%" + filter.Search + "%")
		q += ` AND (title ILIKE ` + p + ` OR description ILIKE ` + p + `)`
	}
	if filter.Category != "" {
		q += ` AND category = ` + arg(filter.Category)
	}
	if len(filter.Statuses) > 0 {
		q += ` AND status = ANY(` + arg(pq.StringArray(filter.Statuses)) + `)`
	}
	if filter.OrganizerID != 0 {
		q += ` AND organizer_id = ` + arg(filter.OrganizerID)
	}
	q += ` ORDER BY starts_at, id`

	var rows []eventRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, wrapErr(err, "filtering events")
	}
	return toEvents(rows), nil
}

// UpdateEvent persists evt's mutable fields. The attendee counter is owned by
// the registration ledger and is deliberately left out of the SET list.
func (repo *eventRepository) UpdateEvent(ctx context.Context, evt event.Event) (event.Event, error) {
	ctx, cancel := dbCtx(ctx)
	defer cancel()

	var row eventRow
	err := repo.db.GetContext(ctx, &row, `
		UPDATE event
		SET title = $2, description = $3, starts_at = $4, ends_at = $5, venue = $6,
		    online_link = $7, category = $8, capacity = $9, status = $10,
		    registrations_open = $11, updated_at = $12
		WHERE id = $1
		RETURNING `+eventColumns,
		evt.ID, evt.Title, evt.Description, evt.StartsAt, evt.EndsAt, evt.Venue,
		evt.OnlineLink, evt.Category, evt.Capacity, evt.Status,
		evt.RegistrationsOpen, evt.UpdatedAt,
	)
	if err != nil {
		if noRows(err) {
			return event.Event{}, event.ErrNotFound
		}
		return event.Event{}, wrapErr(err, "updating event")
	}
	return row.toEvent(), nil
}

func (repo *eventRepository) DeleteEvent(ctx context.Context, id int) error {
	ctx, cancel := dbCtx(ctx)
	defer cancel()

	res, err := repo.db.ExecContext(ctx, `DELETE FROM event WHERE id = $1`, id)
	if err != nil {
		return wrapErr(err, "deleting event")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return event.ErrNotFound
	}
	return nil
}
