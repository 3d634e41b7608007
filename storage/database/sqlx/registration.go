package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/clubhub/core/registration"
)

// activeRegistrationKey is the partial unique index guarding at-most-one
// active registration per (event, user).
const activeRegistrationKey = "registration_active_event_user_key"

type registrationRepository struct {
	db *sqlx.DB
}

var _ registration.Repository = (*registrationRepository)(nil) // interface compliance check

func NewRegistrationRepository(db *sqlx.DB) registration.Repository {
	return &registrationRepository{db: db}
}

type registrationRow struct {
	ID                int         `db:"id"`
	EventID           int         `db:"event_id"`
	UserID            int         `db:"user_id"`
	Status            string      `db:"status"`
	RegisteredAt      time.Time   `db:"registered_at"`
	AttendedAt        null.Time   `db:"attended_at"`
	Rating            null.Int    `db:"rating"`
	Comment           null.String `db:"comment"`
	CertificateSerial null.String `db:"certificate_serial"`
	CertificateURL    null.String `db:"certificate_url"`
	CertificateIssued bool        `db:"certificate_issued"`
}

const registrationColumns = `id, event_id, user_id, status, registered_at, attended_at,
	rating, comment, certificate_serial, certificate_url, certificate_issued`

func (r registrationRow) toRegistration() registration.Registration {
	return registration.Registration{
		ID:                r.ID,
		EventID:           r.EventID,
		UserID:            r.UserID,
		Status:            r.Status,
		RegisteredAt:      r.RegisteredAt,
		AttendedAt:        r.AttendedAt,
		Rating:            r.Rating,
		Comment:           r.Comment,
		CertificateSerial: r.CertificateSerial,
		CertificateURL:    r.CertificateURL,
		CertificateIssued: r.CertificateIssued,
	}
}

func toRegistrations(rows []registrationRow) []registration.Registration {
	regs := make([]registration.Registration, 0, len(rows))
	for _, row := range rows {
		regs = append(regs, row.toRegistration())
	}
	return regs
}

// CreateRegistration claims a capacity slot and inserts the registration in
// one transaction. The conditional counter update serializes racing claims on
// the event row: the loser of a race for the last slot matches zero rows and
// gets ErrEventFull, unless the event row is gone entirely, which is
// ErrNotFound. A duplicate active registration trips the partial unique index
// and maps to ErrAlreadyRegistered.
func (repo *registrationRepository) CreateRegistration(ctx context.Context, reg registration.Registration) (registration.Registration, error) {
	ctx, cancel := dbCtx(ctx)
	defer cancel()

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return registration.Registration{}, wrapErr(err, "beginning registration tx")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE event
		SET attendee_count = attendee_count + 1
		WHERE id = $1 AND (capacity IS NULL OR attendee_count < capacity)`,
		reg.EventID,
	)
	if err != nil {
		return registration.Registration{}, wrapErr(err, "claiming capacity slot")
	}
	if n, err := res.RowsAffected(); err != nil {
		return registration.Registration{}, wrapErr(err, "claiming capacity slot")
	} else if n == 0 {
		// zero rows means full or hard-deleted; tell them apart
		var exists bool
		if err = tx.GetContext(ctx, &exists,
			`SELECT EXISTS(SELECT 1 FROM event WHERE id = $1)`, reg.EventID,
		); err != nil {
			return registration.Registration{}, wrapErr(err, "checking event existence")
		}
		if !exists {
			return registration.Registration{}, registration.ErrNotFound
		}
		return registration.Registration{}, registration.ErrEventFull
	}

	var row registrationRow
	err = tx.GetContext(ctx, &row, `
		INSERT INTO registration (event_id, user_id, status, registered_at)
		VALUES ($1, $2, $3, $4)
		RETURNING `+registrationColumns,
		reg.EventID, reg.UserID, reg.Status, reg.RegisteredAt,
	)
	if err != nil {
		if isUniqueViolation(err, activeRegistrationKey) {
			return registration.Registration{}, registration.ErrAlreadyRegistered
		}
		return registration.Registration{}, wrapErr(err, "creating registration")
	}

	if err = tx.Commit(); err != nil {
		return registration.Registration{}, wrapErr(err, "committing registration")
	}
	return row.toRegistration(), nil
}

func (repo *registrationRepository) GetRegistration(ctx context.Context, eventID, userID int) (registration.Registration, error) {
	ctx, cancel := dbCtx(ctx)
	defer cancel()

	// the active row if any, else the freshest cancelled one
	var row registrationRow
	err := repo.db.GetContext(ctx, &row, `
		SELECT `+registrationColumns+` FROM registration
		WHERE event_id = $1 AND user_id = $2
		ORDER BY (status <> 'cancelled') DESC, registered_at DESC, id DESC
		LIMIT 1`,
		eventID, userID,
	)
	if err != nil {
		if noRows(err) {
			return registration.Registration{}, registration.ErrNotFound
		}
		return registration.Registration{}, wrapErr(err, "getting registration")
	}
	return row.toRegistration(), nil
}

// CancelRegistration flips the row to cancelled and releases its capacity
// slot in the same transaction. The event row may be gone (hard delete);
// cancellation still succeeds.
func (repo *registrationRepository) CancelRegistration(ctx context.Context, reg registration.Registration) (registration.Registration, error) {
	ctx, cancel := dbCtx(ctx)
	defer cancel()

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return registration.Registration{}, wrapErr(err, "beginning cancellation tx")
	}
	defer func() { _ = tx.Rollback() }()

	var row registrationRow
	err = tx.GetContext(ctx, &row, `
		UPDATE registration SET status = 'cancelled'
		WHERE id = $1 AND status = 'registered'
		RETURNING `+registrationColumns,
		reg.ID,
	)
	if err != nil {
		if !noRows(err) {
			return registration.Registration{}, wrapErr(err, "cancelling registration")
		}
		// raced with another cancel or an attendance mark; a cancel that
		// already landed keeps the no-op outcome, anything else is an error
		if err = tx.GetContext(ctx, &row, `
			SELECT `+registrationColumns+` FROM registration WHERE id = $1`,
			reg.ID,
		); err != nil {
			if noRows(err) {
				return registration.Registration{}, registration.ErrNotRegistered
			}
			return registration.Registration{}, wrapErr(err, "cancelling registration")
		}
		if row.Status != registration.StatusCancelled {
			return registration.Registration{}, registration.ErrNotRegistered
		}
		// the winning cancel released the slot already
		return row.toRegistration(), nil
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE event SET attendee_count = attendee_count - 1
		WHERE id = $1 AND attendee_count > 0`,
		reg.EventID,
	); err != nil {
		return registration.Registration{}, wrapErr(err, "releasing capacity slot")
	}

	if err = tx.Commit(); err != nil {
		return registration.Registration{}, wrapErr(err, "committing cancellation")
	}
	return row.toRegistration(), nil
}

func (repo *registrationRepository) UpdateRegistration(ctx context.Context, reg registration.Registration) (registration.Registration, error) {
	ctx, cancel := dbCtx(ctx)
	defer cancel()

	var row registrationRow
	err := repo.db.GetContext(ctx, &row, `
		UPDATE registration
		SET status = $2, attended_at = $3, rating = $4, comment = $5,
		    certificate_serial = $6, certificate_url = $7, certificate_issued = $8
		WHERE id = $1
		RETURNING `+registrationColumns,
		reg.ID, reg.Status, reg.AttendedAt, reg.Rating, reg.Comment,
		reg.CertificateSerial, reg.CertificateURL, reg.CertificateIssued,
	)
	if err != nil {
		if noRows(err) {
			return registration.Registration{}, registration.ErrNotFound
		}
		return registration.Registration{}, wrapErr(err, "updating registration")
	}
	return row.toRegistration(), nil
}

func (repo *registrationRepository) QueryEventRegistrations(ctx context.Context, eventID int) ([]registration.Registration, error) {
	return repo.query(ctx, "event_id", eventID)
}

func (repo *registrationRepository) QueryUserRegistrations(ctx context.Context, userID int) ([]registration.Registration, error) {
	return repo.query(ctx, "user_id", userID)
}

func (repo *registrationRepository) query(ctx context.Context, column string, id int) ([]registration.Registration, error) {
	ctx, cancel := dbCtx(ctx)
	defer cancel()

	var rows []registrationRow
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT `+registrationColumns+` FROM registration
		WHERE `+column+` = $1
		ORDER BY registered_at, id`,
		id,
	)
	if err != nil {
		return nil, wrapErr(err, "querying registrations by "+column)
	}
	return toRegistrations(rows), nil
}
