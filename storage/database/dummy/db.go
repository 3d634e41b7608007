// Package dummydb provides in-memory repositories for tests and local hacking.
// Locking mirrors the production guarantees: capacity claims and counter
// updates happen under the same locks a transaction would hold.
package dummydb

import (
	"sync"

	"github.com/trezcool/clubhub/core/achievement"
	"github.com/trezcool/clubhub/core/event"
	"github.com/trezcool/clubhub/core/registration"
	"github.com/trezcool/clubhub/core/user"
)

type (
	DB struct {
		user         *userTable
		event        *eventTable
		registration *registrationTable
		achievement  *achievementTable
	}

	userTable struct {
		sync.RWMutex
		table  map[int]*user.User
		nextID int
	}

	eventTable struct {
		sync.RWMutex
		table  map[int]*event.Event
		nextID int
	}

	registrationTable struct {
		sync.RWMutex
		table  map[int]*registration.Registration
		nextID int
	}

	achievementTable struct {
		sync.RWMutex
		table    map[int]*achievement.Achievement
		userAchs map[int]*achievement.UserAchievement
		counters map[counterKey]int
		nextID   int
		nextUAID int
	}

	counterKey struct {
		userID int
		kind   string
	}
)

func Open() (*DB, error) {
	db := &DB{
		user:         &userTable{table: make(map[int]*user.User)},
		event:        &eventTable{table: make(map[int]*event.Event)},
		registration: &registrationTable{table: make(map[int]*registration.Registration)},
		achievement: &achievementTable{
			table:    make(map[int]*achievement.Achievement),
			userAchs: make(map[int]*achievement.UserAchievement),
			counters: make(map[counterKey]int),
		},
	}
	return db, nil
}
