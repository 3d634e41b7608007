package registration_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/clubhub/core"
	"github.com/trezcool/clubhub/core/event"
	"github.com/trezcool/clubhub/core/registration"
	"github.com/trezcool/clubhub/core/user"
	emailsvc "github.com/trezcool/clubhub/services/email"
	dummydb "github.com/trezcool/clubhub/storage/database/dummy"
)

func TestMain(m *testing.M) {
	core.InitConf()
	core.Conf.TestMode = true
	m.Run()
}

type testLogger struct{}

func (testLogger) Debug(string, ...interface{}) {}
func (testLogger) Info(string, ...interface{})  {}
func (testLogger) Warn(string, ...interface{})  {}
func (testLogger) Error(string, ...interface{}) {}
func (testLogger) Fatal(string, ...interface{}) {}

type trackerMock struct {
	mu     sync.Mutex
	deltas []int
}

func (tr *trackerMock) EventAttended(_ context.Context, _ int, delta int) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.deltas = append(tr.deltas, delta)
	return nil
}

type fixture struct {
	svc     *registration.Service
	repo    registration.Repository
	usrRepo user.Repository
	evtRepo event.Repository
	tracker *trackerMock
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db, err := dummydb.Open()
	require.NoError(t, err)

	f := &fixture{
		repo:    dummydb.NewRegistrationRepository(db),
		usrRepo: dummydb.NewUserRepository(db),
		evtRepo: dummydb.NewEventRepository(db),
		tracker: &trackerMock{},
	}
	f.svc = registration.NewService(
		f.repo,
		f.evtRepo,
		f.usrRepo,
		f.tracker,
		emailsvc.NewConsoleServiceMock(),
		testLogger{},
	)
	return f
}

func (f *fixture) createUser(t *testing.T, uname string) user.User {
	t.Helper()
	usr := user.User{
		Name:     uname,
		Username: uname,
		Email:    uname + "@test.cd",
		IsActive: true,
		Roles:    []string{user.RoleStudent},
	}
	require.NoError(t, usr.SetPassword("Str0ngPwd!"))
	usr, err := f.usrRepo.CreateUser(context.Background(), usr)
	require.NoError(t, err)
	return usr
}

func (f *fixture) createEvent(t *testing.T, capacity int, status string) event.Event {
	t.Helper()
	evt := event.Event{
		Title:             "Go Workshop",
		StartsAt:          time.Now().UTC().Add(24 * time.Hour),
		Venue:             "Lab 1",
		Status:            status,
		RegistrationsOpen: status == event.StatusUpcoming,
	}
	if capacity >= 0 {
		evt.Capacity = null.IntFrom(capacity)
	}
	evt, err := f.evtRepo.CreateEvent(context.Background(), evt)
	require.NoError(t, err)
	return evt
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path", func(t *testing.T) {
		f := setup(t)
		usr := f.createUser(t, "awe")
		evt := f.createEvent(t, -1, event.StatusUpcoming)

		reg, err := f.svc.Register(ctx, usr.ID, evt.ID)
		require.NoError(t, err)
		assert.Equal(t, registration.StatusRegistered, reg.Status)
		assert.Equal(t, evt.ID, reg.EventID)
		assert.Equal(t, usr.ID, reg.UserID)

		refreshed, err := f.evtRepo.GetEvent(ctx, evt.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, refreshed.AttendeeCount)
	})

	t.Run("duplicate registration", func(t *testing.T) {
		f := setup(t)
		usr := f.createUser(t, "awe")
		evt := f.createEvent(t, -1, event.StatusUpcoming)

		_, err := f.svc.Register(ctx, usr.ID, evt.ID)
		require.NoError(t, err)
		_, err = f.svc.Register(ctx, usr.ID, evt.ID)
		assert.Equal(t, registration.ErrAlreadyRegistered, err)
	})

	t.Run("closed registrations", func(t *testing.T) {
		f := setup(t)
		usr := f.createUser(t, "awe")
		evt := f.createEvent(t, -1, event.StatusOngoing)

		_, err := f.svc.Register(ctx, usr.ID, evt.ID)
		assert.Equal(t, registration.ErrRegistrationClosed, err)
	})

	t.Run("unknown event", func(t *testing.T) {
		f := setup(t)
		usr := f.createUser(t, "awe")

		_, err := f.svc.Register(ctx, usr.ID, 404)
		assert.Equal(t, event.ErrNotFound, err)
	})

	t.Run("capacity 2: third caller is rejected", func(t *testing.T) {
		f := setup(t)
		a := f.createUser(t, "a")
		b := f.createUser(t, "b")
		c := f.createUser(t, "c")
		evt := f.createEvent(t, 2, event.StatusUpcoming)

		_, err := f.svc.Register(ctx, a.ID, evt.ID)
		require.NoError(t, err)
		_, err = f.svc.Register(ctx, b.ID, evt.ID)
		require.NoError(t, err)
		_, err = f.svc.Register(ctx, c.ID, evt.ID)
		assert.Equal(t, registration.ErrEventFull, err)

		// a slot frees up after a cancellation
		_, err = f.svc.Cancel(ctx, b.ID, evt.ID)
		require.NoError(t, err)
		_, err = f.svc.Register(ctx, c.ID, evt.ID)
		assert.NoError(t, err)
	})
}

func TestService_Register_sendsConfirmation(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	usr := f.createUser(t, "awe")
	evt := f.createEvent(t, -1, event.StatusUpcoming)

	before := len(emailsvc.SentMessages)
	_, err := f.svc.Register(ctx, usr.ID, evt.ID)
	require.NoError(t, err)

	require.Len(t, emailsvc.SentMessages, before+1)
	msg := emailsvc.SentMessages[before]
	assert.Equal(t, "Registration confirmed: "+evt.Title, msg.Subject)
	assert.Equal(t, usr.Email, msg.To[0].Address)
	assert.Contains(t, msg.TextContent, evt.Title)
	assert.Contains(t, msg.HTMLContent, evt.Title)
}

func TestService_Register_concurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	usr := f.createUser(t, "awe")
	evt := f.createEvent(t, -1, event.StatusUpcoming)

	const n = 100
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Register(ctx, usr.ID, evt.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch err {
		case nil:
			ok++
		case registration.ErrAlreadyRegistered:
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, dup)

	refreshed, err := f.evtRepo.GetEvent(ctx, evt.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, refreshed.AttendeeCount)
}

func TestService_Register_concurrentCapacity(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	const capacity, n = 10, 100
	evt := f.createEvent(t, capacity, event.StatusUpcoming)

	users := make([]user.User, n)
	for i := range users {
		users[i] = f.createUser(t, "usr"+string(rune('a'+i%26))+string(rune('a'+i/26)))
	}

	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(uid int) {
			defer wg.Done()
			_, err := f.svc.Register(ctx, uid, evt.ID)
			errs <- err
		}(users[i].ID)
	}
	wg.Wait()
	close(errs)

	var ok, full int
	for err := range errs {
		switch err {
		case nil:
			ok++
		case registration.ErrEventFull:
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, capacity, ok)
	assert.Equal(t, n-capacity, full)

	refreshed, err := f.evtRepo.GetEvent(ctx, evt.ID)
	require.NoError(t, err)
	assert.Equal(t, capacity, refreshed.AttendeeCount)
}

func TestService_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("frees the slot and is idempotent", func(t *testing.T) {
		f := setup(t)
		usr := f.createUser(t, "awe")
		evt := f.createEvent(t, 1, event.StatusUpcoming)

		_, err := f.svc.Register(ctx, usr.ID, evt.ID)
		require.NoError(t, err)

		reg, err := f.svc.Cancel(ctx, usr.ID, evt.ID)
		require.NoError(t, err)
		assert.Equal(t, registration.StatusCancelled, reg.Status)

		refreshed, err := f.evtRepo.GetEvent(ctx, evt.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, refreshed.AttendeeCount)

		// second cancel is a no-op
		reg2, err := f.svc.Cancel(ctx, usr.ID, evt.ID)
		require.NoError(t, err)
		assert.Equal(t, registration.StatusCancelled, reg2.Status)
		refreshed, err = f.evtRepo.GetEvent(ctx, evt.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, refreshed.AttendeeCount)
	})

	t.Run("re-registering creates a fresh row", func(t *testing.T) {
		f := setup(t)
		usr := f.createUser(t, "awe")
		evt := f.createEvent(t, -1, event.StatusUpcoming)

		first, err := f.svc.Register(ctx, usr.ID, evt.ID)
		require.NoError(t, err)
		_, err = f.svc.Cancel(ctx, usr.ID, evt.ID)
		require.NoError(t, err)

		second, err := f.svc.Register(ctx, usr.ID, evt.ID)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
		assert.Equal(t, registration.StatusRegistered, second.Status)

		regs, err := f.svc.QueryByUser(ctx, usr.ID)
		require.NoError(t, err)
		assert.Len(t, regs, 2)
	})

	t.Run("attended registration cannot be cancelled", func(t *testing.T) {
		f := setup(t)
		usr := f.createUser(t, "awe")
		evt := f.createEvent(t, -1, event.StatusUpcoming)

		_, err := f.svc.Register(ctx, usr.ID, evt.ID)
		require.NoError(t, err)
		startAndAttend(t, f, evt.ID, usr.ID)

		_, err = f.svc.Cancel(ctx, usr.ID, evt.ID)
		assert.Equal(t, registration.ErrAlreadyAttended, err)
	})

	t.Run("completed event", func(t *testing.T) {
		f := setup(t)
		usr := f.createUser(t, "awe")
		evt := f.createEvent(t, -1, event.StatusUpcoming)

		_, err := f.svc.Register(ctx, usr.ID, evt.ID)
		require.NoError(t, err)
		evt.Status = event.StatusCompleted
		_, err = f.evtRepo.UpdateEvent(ctx, evt)
		require.NoError(t, err)

		_, err = f.svc.Cancel(ctx, usr.ID, evt.ID)
		assert.Equal(t, registration.ErrEventOver, err)
	})

	t.Run("no registration", func(t *testing.T) {
		f := setup(t)
		usr := f.createUser(t, "awe")
		evt := f.createEvent(t, -1, event.StatusUpcoming)

		_, err := f.svc.Cancel(ctx, usr.ID, evt.ID)
		assert.Equal(t, registration.ErrNotFound, err)
	})
}

func TestService_Cancel_concurrentCancels(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	usr := f.createUser(t, "awe")
	evt := f.createEvent(t, 1, event.StatusUpcoming)

	_, err := f.svc.Register(ctx, usr.ID, evt.ID)
	require.NoError(t, err)

	// every racing caller gets the cancelled row, never an error
	const n = 50
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg, err := f.svc.Cancel(ctx, usr.ID, evt.ID)
			if err == nil && reg.Status != registration.StatusCancelled {
				err = errors.New("expected a cancelled registration")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	// the slot is released exactly once
	refreshed, err := f.evtRepo.GetEvent(ctx, evt.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, refreshed.AttendeeCount)
}

func TestRepository_CancelRegistration_staleSnapshot(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	usr := f.createUser(t, "awe")
	evt := f.createEvent(t, 1, event.StatusUpcoming)

	reg, err := f.svc.Register(ctx, usr.ID, evt.ID)
	require.NoError(t, err)

	// two callers hold the same pre-cancel row; the loser must get the
	// cancelled row back, not ErrNotRegistered
	first, err := f.repo.CancelRegistration(ctx, reg)
	require.NoError(t, err)
	assert.Equal(t, registration.StatusCancelled, first.Status)

	second, err := f.repo.CancelRegistration(ctx, reg)
	require.NoError(t, err)
	assert.Equal(t, registration.StatusCancelled, second.Status)

	refreshed, err := f.evtRepo.GetEvent(ctx, evt.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, refreshed.AttendeeCount)
}

func TestRepository_CreateRegistration_deletedEvent(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	usr := f.createUser(t, "awe")
	evt := f.createEvent(t, -1, event.StatusUpcoming)
	require.NoError(t, f.evtRepo.DeleteEvent(ctx, evt.ID))

	// the event vanished after the caller's checks; not-found, not full
	_, err := f.repo.CreateRegistration(ctx, registration.Registration{
		EventID:      evt.ID,
		UserID:       usr.ID,
		Status:       registration.StatusRegistered,
		RegisteredAt: time.Now().UTC(),
	})
	assert.Equal(t, registration.ErrNotFound, err)
}

// startAndAttend moves the event to ongoing with a past start and marks the
// user attended.
func startAndAttend(t *testing.T, f *fixture, eventID, userID int) {
	t.Helper()
	ctx := context.Background()

	evt, err := f.evtRepo.GetEvent(ctx, eventID)
	require.NoError(t, err)
	evt.Status = event.StatusOngoing
	evt.StartsAt = time.Now().UTC().Add(-time.Hour)
	_, err = f.evtRepo.UpdateEvent(ctx, evt)
	require.NoError(t, err)

	_, err = f.svc.MarkAttended(ctx, eventID, userID, true)
	require.NoError(t, err)
}

func TestService_MarkAttended(t *testing.T) {
	ctx := context.Background()

	t.Run("rejected before the event starts", func(t *testing.T) {
		f := setup(t)
		usr := f.createUser(t, "awe")
		evt := f.createEvent(t, -1, event.StatusUpcoming)

		_, err := f.svc.Register(ctx, usr.ID, evt.ID)
		require.NoError(t, err)

		_, err = f.svc.MarkAttended(ctx, evt.ID, usr.ID, true)
		assert.Equal(t, registration.ErrEventNotStarted, err)
	})

	t.Run("toggles and notifies the tracker", func(t *testing.T) {
		f := setup(t)
		usr := f.createUser(t, "awe")
		evt := f.createEvent(t, -1, event.StatusUpcoming)

		_, err := f.svc.Register(ctx, usr.ID, evt.ID)
		require.NoError(t, err)
		startAndAttend(t, f, evt.ID, usr.ID)

		reg, err := f.svc.MarkAttended(ctx, evt.ID, usr.ID, true) // no-op
		require.NoError(t, err)
		assert.Equal(t, registration.StatusAttended, reg.Status)
		assert.True(t, reg.AttendedAt.Valid)

		reg, err = f.svc.MarkAttended(ctx, evt.ID, usr.ID, false) // correction
		require.NoError(t, err)
		assert.Equal(t, registration.StatusRegistered, reg.Status)
		assert.False(t, reg.AttendedAt.Valid)

		assert.Equal(t, []int{1, -1}, f.tracker.deltas)
	})

	t.Run("not registered", func(t *testing.T) {
		f := setup(t)
		usr := f.createUser(t, "awe")
		evt := f.createEvent(t, -1, event.StatusOngoing)

		evt.StartsAt = time.Now().UTC().Add(-time.Hour)
		_, err := f.evtRepo.UpdateEvent(ctx, evt)
		require.NoError(t, err)

		_, err = f.svc.MarkAttended(ctx, evt.ID, usr.ID, true)
		assert.Equal(t, registration.ErrNotRegistered, err)
	})
}

func TestService_SubmitFeedback(t *testing.T) {
	ctx := context.Background()

	newAttended := func(t *testing.T) (*fixture, user.User, event.Event) {
		f := setup(t)
		usr := f.createUser(t, "awe")
		evt := f.createEvent(t, -1, event.StatusUpcoming)
		_, err := f.svc.Register(ctx, usr.ID, evt.ID)
		require.NoError(t, err)
		startAndAttend(t, f, evt.ID, usr.ID)
		return f, usr, evt
	}

	t.Run("happy path", func(t *testing.T) {
		f, usr, evt := newAttended(t)

		reg, err := f.svc.SubmitFeedback(ctx, usr.ID, evt.ID, registration.Feedback{Rating: 4, Comment: "great!"})
		require.NoError(t, err)
		assert.Equal(t, 4, reg.Rating.Int)
		assert.Equal(t, "great!", reg.Comment.String)
	})

	t.Run("rating bounds", func(t *testing.T) {
		f, usr, evt := newAttended(t)

		for _, rating := range []int{0, 6, -1} {
			_, err := f.svc.SubmitFeedback(ctx, usr.ID, evt.ID, registration.Feedback{Rating: rating})
			assert.Error(t, err, "rating %d should be rejected", rating)
		}
	})

	t.Run("requires attendance", func(t *testing.T) {
		f := setup(t)
		usr := f.createUser(t, "awe")
		evt := f.createEvent(t, -1, event.StatusUpcoming)
		_, err := f.svc.Register(ctx, usr.ID, evt.ID)
		require.NoError(t, err)

		_, err = f.svc.SubmitFeedback(ctx, usr.ID, evt.ID, registration.Feedback{Rating: 5})
		assert.Equal(t, registration.ErrNotAttended, err)
	})
}

func TestService_IssueCertificate(t *testing.T) {
	ctx := context.Background()

	t.Run("issues once", func(t *testing.T) {
		f := setup(t)
		usr := f.createUser(t, "awe")
		evt := f.createEvent(t, -1, event.StatusUpcoming)
		_, err := f.svc.Register(ctx, usr.ID, evt.ID)
		require.NoError(t, err)
		startAndAttend(t, f, evt.ID, usr.ID)

		reg, err := f.svc.IssueCertificate(ctx, evt.ID, usr.ID)
		require.NoError(t, err)
		assert.True(t, reg.CertificateIssued)
		assert.True(t, reg.CertificateSerial.Valid)
		assert.Contains(t, reg.CertificateURL.String, reg.CertificateSerial.String)

		// issuing again returns the same certificate
		again, err := f.svc.IssueCertificate(ctx, evt.ID, usr.ID)
		require.NoError(t, err)
		assert.Equal(t, reg.CertificateSerial, again.CertificateSerial)
	})

	t.Run("requires attendance", func(t *testing.T) {
		f := setup(t)
		usr := f.createUser(t, "awe")
		evt := f.createEvent(t, -1, event.StatusUpcoming)
		_, err := f.svc.Register(ctx, usr.ID, evt.ID)
		require.NoError(t, err)

		_, err = f.svc.IssueCertificate(ctx, evt.ID, usr.ID)
		assert.Equal(t, registration.ErrNotAttended, err)
	})
}
