package registration

import (
	"context"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/clubhub/core"
	"github.com/trezcool/clubhub/core/event"
	"github.com/trezcool/clubhub/core/user"
)

var (
	// errors
	ErrNotFound           = errors.New("registration not found")
	ErrAlreadyRegistered  = core.NewConflictError("you are already registered for this event")
	ErrEventFull          = core.NewConflictError("this event is at capacity")
	ErrRegistrationClosed = core.NewConflictError("registrations are closed for this event")
	ErrNotRegistered      = core.NewConflictError("no active registration for this event")
	ErrNotAttended        = core.NewConflictError("feedback requires an attended registration")
	ErrAlreadyAttended    = core.NewConflictError("attendance has been recorded; this registration can no longer be cancelled")
	ErrEventNotStarted    = core.NewConflictError("attendance cannot be marked before the event starts")
	ErrEventOver          = core.NewConflictError("this event is already completed")
)

type (
	// Repository is the ledger's persistence contract.
	Repository interface {
		// CreateRegistration atomically checks the event's remaining capacity,
		// enforces at-most-one active registration per (event, user) and bumps
		// the event's attendee counter. It fails with ErrEventFull or
		// ErrAlreadyRegistered; partial writes are never visible.
		CreateRegistration(ctx context.Context, reg Registration) (Registration, error)
		// GetRegistration returns the active registration for the pair if one
		// exists, otherwise the most recent cancelled one, otherwise ErrNotFound.
		GetRegistration(ctx context.Context, eventID, userID int) (Registration, error)
		// CancelRegistration flips a `registered` row to `cancelled` and frees
		// its capacity slot in the same atomic step.
		CancelRegistration(ctx context.Context, reg Registration) (Registration, error)
		UpdateRegistration(ctx context.Context, reg Registration) (Registration, error)
		QueryEventRegistrations(ctx context.Context, eventID int) ([]Registration, error)
		QueryUserRegistrations(ctx context.Context, userID int) ([]Registration, error)
	}

	// Tracker recomputes achievement progress when attendance changes.
	Tracker interface {
		EventAttended(ctx context.Context, userID, delta int) error
	}

	Service struct {
		repo    Repository
		events  event.Repository
		users   user.Repository
		tracker Tracker // optional
		mailSvc core.EmailService
		log     core.Logger
	}
)

func NewService(
	repo Repository,
	events event.Repository,
	users user.Repository,
	tracker Tracker,
	mailSvc core.EmailService,
	log core.Logger,
) *Service {
	return &Service{
		repo:    repo,
		events:  events,
		users:   users,
		tracker: tracker,
		mailSvc: mailSvc,
		log:     log,
	}
}

// Register creates an active registration for (user, event).
// The capacity check and the insert are a single atomic step in the
// repository; two racing calls for the last slot cannot both win.
func (svc *Service) Register(ctx context.Context, userID, eventID int) (Registration, error) {
	evt, err := svc.events.GetEvent(ctx, eventID)
	if err != nil {
		return Registration{}, err
	}
	if !evt.AcceptsRegistrations() {
		return Registration{}, ErrRegistrationClosed
	}

	reg := Registration{
		EventID:      eventID,
		UserID:       userID,
		Status:       StatusRegistered,
		RegisteredAt: time.Now().UTC(),
	}
	reg, err = svc.repo.CreateRegistration(ctx, reg)
	if err != nil {
		return Registration{}, err
	}

	svc.sendConfirmation(ctx, userID, evt)
	return reg, nil
}

// Cancel transitions `registered` → `cancelled` and frees one capacity slot.
// Cancelling an already-cancelled pair is a no-op, not an error.
func (svc *Service) Cancel(ctx context.Context, userID, eventID int) (Registration, error) {
	reg, err := svc.repo.GetRegistration(ctx, eventID, userID)
	if err != nil {
		return Registration{}, err
	}

	switch reg.Status {
	case StatusCancelled:
		return reg, nil // idempotent
	case StatusAttended:
		return Registration{}, ErrAlreadyAttended
	}

	// a deleted event must not block cancellation (orphan-safe reads)
	if evt, err := svc.events.GetEvent(ctx, eventID); err == nil {
		switch evt.Status {
		case event.StatusCompleted, event.StatusArchived:
			return Registration{}, ErrEventOver
		}
	} else if errors.Cause(err) != event.ErrNotFound {
		return Registration{}, err
	}

	return svc.repo.CancelRegistration(ctx, reg)
}

// MarkAttended toggles a registration between `registered` and `attended`.
// Only valid once the event has started; organizers may correct mistakes, so
// every transition is audit-logged and adjusts the attendance counter by ±1.
func (svc *Service) MarkAttended(ctx context.Context, eventID, userID int, attended bool) (Registration, error) {
	evt, err := svc.events.GetEvent(ctx, eventID)
	if err != nil {
		return Registration{}, err
	}
	if !evt.HasStarted(time.Now().UTC()) {
		return Registration{}, ErrEventNotStarted
	}

	reg, err := svc.repo.GetRegistration(ctx, eventID, userID)
	if err != nil || !reg.IsActive() {
		if err != nil && errors.Cause(err) != ErrNotFound {
			return Registration{}, err
		}
		return Registration{}, ErrNotRegistered
	}

	if attended == (reg.Status == StatusAttended) {
		return reg, nil // nothing to do
	}

	delta := 1
	if attended {
		reg.Status = StatusAttended
		reg.AttendedAt = null.TimeFrom(time.Now().UTC())
	} else {
		reg.Status = StatusRegistered
		reg.AttendedAt = null.Time{}
		delta = -1
	}

	reg, err = svc.repo.UpdateRegistration(ctx, reg)
	if err != nil {
		return Registration{}, err
	}
	svc.log.Info("attendance marked",
		map[string]interface{}{"event": eventID, "user": userID, "attended": attended})

	if svc.tracker != nil {
		if err := svc.tracker.EventAttended(ctx, userID, delta); err != nil {
			svc.log.Error("recomputing achievements", err)
		}
	}
	return reg, nil
}

// SubmitFeedback upserts the rating/comment on an attended registration.
func (svc *Service) SubmitFeedback(ctx context.Context, userID, eventID int, fb Feedback) (Registration, error) {
	if err := fb.Validate(); err != nil {
		return Registration{}, err
	}

	reg, err := svc.repo.GetRegistration(ctx, eventID, userID)
	if err != nil {
		return Registration{}, err
	}
	if reg.Status != StatusAttended {
		return Registration{}, ErrNotAttended
	}

	reg.Rating = null.IntFrom(fb.Rating)
	reg.Comment = null.NewString(fb.Comment, fb.Comment != "")
	return svc.repo.UpdateRegistration(ctx, reg)
}

// IssueCertificate issues an attendance certificate; issuing twice returns
// the existing one.
func (svc *Service) IssueCertificate(ctx context.Context, eventID, userID int) (Registration, error) {
	reg, err := svc.repo.GetRegistration(ctx, eventID, userID)
	if err != nil {
		return Registration{}, err
	}
	if reg.Status != StatusAttended {
		return Registration{}, ErrNotAttended
	}
	if reg.CertificateIssued {
		return reg, nil
	}

	serial := uuid.New().String()
	reg.CertificateSerial = null.StringFrom(serial)
	reg.CertificateURL = null.StringFrom(core.Conf.CertificateBaseURL + "/" + serial)
	reg.CertificateIssued = true
	return svc.repo.UpdateRegistration(ctx, reg)
}

func (svc *Service) QueryByEvent(ctx context.Context, eventID int) ([]Registration, error) {
	return svc.repo.QueryEventRegistrations(ctx, eventID)
}

func (svc *Service) QueryByUser(ctx context.Context, userID int) ([]Registration, error) {
	return svc.repo.QueryUserRegistrations(ctx, userID)
}

func (svc *Service) sendConfirmation(ctx context.Context, userID int, evt event.Event) {
	if svc.mailSvc == nil {
		return
	}
	usr, err := svc.users.GetUser(ctx, user.GetFilter{ID: userID})
	if err != nil {
		svc.log.Error("loading registrant for confirmation email", err)
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Registration confirmed: " + evt.Title,
		TemplateName: "registration-confirmation",
		TemplateData: struct {
			Name       string
			EventTitle string
			StartsAt   string
		}{usr.Name, evt.Title, evt.StartsAt.Format(time.RFC1123)},
	})
}
