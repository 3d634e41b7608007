package dummydb

import (
	"context"
	"sort"

	"github.com/trezcool/clubhub/core/registration"
)

type registrationRepository struct {
	db     *registrationTable
	events *eventTable
}

var _ registration.Repository = (*registrationRepository)(nil) // interface compliance check

func NewRegistrationRepository(db *DB) registration.Repository {
	return &registrationRepository{db: db.registration, events: db.event}
}

func (repo *registrationRepository) query() []registration.Registration {
	regs := make([]registration.Registration, 0, len(repo.db.table))
	for _, r := range repo.db.table {
		regs = append(regs, *r)
	}
	sort.Slice(regs, func(i, j int) bool {
		if !regs[i].RegisteredAt.Equal(regs[j].RegisteredAt) {
			return regs[i].RegisteredAt.Before(regs[j].RegisteredAt)
		}
		return regs[i].ID < regs[j].ID
	})
	return regs
}

// CreateRegistration holds both table locks so the capacity check, the
// duplicate check, the insert and the counter bump are one atomic step.
// Lock order is always event then registration.
func (repo *registrationRepository) CreateRegistration(_ context.Context, reg registration.Registration) (registration.Registration, error) {
	repo.events.Lock()
	defer repo.events.Unlock()
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, r := range repo.db.table {
		if r.EventID == reg.EventID && r.UserID == reg.UserID && r.IsActive() {
			return registration.Registration{}, registration.ErrAlreadyRegistered
		}
	}

	evt, ok := repo.events.table[reg.EventID]
	if !ok {
		return registration.Registration{}, registration.ErrNotFound
	}
	if evt.Capacity.Valid && evt.AttendeeCount >= evt.Capacity.Int {
		return registration.Registration{}, registration.ErrEventFull
	}

	evt.AttendeeCount++
	repo.db.nextID++
	reg.ID = repo.db.nextID
	repo.db.table[reg.ID] = &reg
	return reg, nil
}

func (repo *registrationRepository) GetRegistration(_ context.Context, eventID, userID int) (registration.Registration, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var latestCancelled *registration.Registration
	for _, reg := range repo.db.table {
		if reg.EventID != eventID || reg.UserID != userID {
			continue
		}
		if reg.IsActive() {
			return *reg, nil
		}
		if latestCancelled == nil || reg.RegisteredAt.After(latestCancelled.RegisteredAt) ||
			(reg.RegisteredAt.Equal(latestCancelled.RegisteredAt) && reg.ID > latestCancelled.ID) {
			latestCancelled = reg
		}
	}
	if latestCancelled != nil {
		return *latestCancelled, nil
	}
	return registration.Registration{}, registration.ErrNotFound
}

// CancelRegistration flips the row to cancelled and releases the capacity
// slot under the same locks. A deleted event does not block cancellation.
func (repo *registrationRepository) CancelRegistration(_ context.Context, reg registration.Registration) (registration.Registration, error) {
	repo.events.Lock()
	defer repo.events.Unlock()
	repo.db.Lock()
	defer repo.db.Unlock()

	origReg, ok := repo.db.table[reg.ID]
	if !ok {
		return registration.Registration{}, registration.ErrNotRegistered
	}
	if origReg.Status == registration.StatusCancelled {
		// a racing cancel already released the slot; same no-op outcome
		return *origReg, nil
	}
	if origReg.Status != registration.StatusRegistered {
		return registration.Registration{}, registration.ErrNotRegistered
	}

	origReg.Status = registration.StatusCancelled
	if evt, ok := repo.events.table[origReg.EventID]; ok && evt.AttendeeCount > 0 {
		evt.AttendeeCount--
	}
	return *origReg, nil
}

func (repo *registrationRepository) UpdateRegistration(_ context.Context, reg registration.Registration) (registration.Registration, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[reg.ID]; !ok {
		return registration.Registration{}, registration.ErrNotFound
	}
	repo.db.table[reg.ID] = &reg
	return reg, nil
}

func (repo *registrationRepository) QueryEventRegistrations(_ context.Context, eventID int) ([]registration.Registration, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var regs []registration.Registration
	for _, reg := range repo.query() {
		if reg.EventID == eventID {
			regs = append(regs, reg)
		}
	}
	return regs, nil
}

func (repo *registrationRepository) QueryUserRegistrations(_ context.Context, userID int) ([]registration.Registration, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var regs []registration.Registration
	for _, reg := range repo.query() {
		if reg.UserID == userID {
			regs = append(regs, reg)
		}
	}
	return regs, nil
}
