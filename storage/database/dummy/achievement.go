package dummydb

import (
	"context"
	"sort"

	"github.com/trezcool/clubhub/core/achievement"
)

type achievementRepository struct {
	db    *achievementTable
	users *userTable
}

var _ achievement.Repository = (*achievementRepository)(nil) // interface compliance check

func NewAchievementRepository(db *DB) achievement.Repository {
	return &achievementRepository{db: db.achievement, users: db.user}
}

func (repo *achievementRepository) query(activeOnly bool) []achievement.Achievement {
	achievements := make([]achievement.Achievement, 0, len(repo.db.table))
	for _, a := range repo.db.table {
		if activeOnly && !a.IsActive {
			continue
		}
		achievements = append(achievements, *a)
	}
	// evaluation order: ascending points, then name
	sort.Slice(achievements, func(i, j int) bool {
		if achievements[i].Points != achievements[j].Points {
			return achievements[i].Points < achievements[j].Points
		}
		return achievements[i].Name < achievements[j].Name
	})
	return achievements
}

func (repo *achievementRepository) CheckNameUniqueness(_ context.Context, name string) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, a := range repo.db.table {
		if a.Name == name {
			return achievement.ErrNameExists
		}
	}
	return nil
}

func (repo *achievementRepository) CreateAchievement(_ context.Context, ach achievement.Achievement) (achievement.Achievement, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, a := range repo.db.table {
		if a.Name == ach.Name {
			return achievement.Achievement{}, achievement.ErrNameExists
		}
	}

	repo.db.nextID++
	ach.ID = repo.db.nextID
	repo.db.table[ach.ID] = &ach
	return ach, nil
}

func (repo *achievementRepository) QueryActiveAchievements(_ context.Context) ([]achievement.Achievement, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return repo.query(true), nil
}

func (repo *achievementRepository) QueryAllAchievements(_ context.Context) ([]achievement.Achievement, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return repo.query(false), nil
}

func (repo *achievementRepository) IncrementCounter(_ context.Context, userID int, kind string, delta int) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	key := counterKey{userID: userID, kind: kind}
	count := repo.db.counters[key] + delta
	if count < 0 {
		count = 0
	}
	repo.db.counters[key] = count
	return count, nil
}

func (repo *achievementRepository) GetCounters(_ context.Context, userID int) (map[string]int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	counters := make(map[string]int)
	for key, count := range repo.db.counters {
		if key.userID == userID {
			counters[key.kind] = count
		}
	}
	return counters, nil
}

func (repo *achievementRepository) GetUserAchievements(_ context.Context, userID int) ([]achievement.UserAchievement, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var uas []achievement.UserAchievement
	for _, ua := range repo.db.userAchs {
		if ua.UserID == userID {
			uas = append(uas, *ua)
		}
	}
	sort.Slice(uas, func(i, j int) bool { return uas[i].AchievementID < uas[j].AchievementID })
	return uas, nil
}

func (repo *achievementRepository) UpsertUserAchievement(_ context.Context, ua achievement.UserAchievement) (achievement.UserAchievement, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, existing := range repo.db.userAchs {
		if existing.UserID == ua.UserID && existing.AchievementID == ua.AchievementID {
			existing.Progress = ua.Progress
			// one-way unlock
			if ua.Unlocked && !existing.Unlocked {
				existing.Unlocked = true
				existing.UnlockedAt = ua.UnlockedAt
			}
			return *existing, nil
		}
	}

	repo.db.nextUAID++
	ua.ID = repo.db.nextUAID
	repo.db.userAchs[ua.ID] = &ua
	return ua, nil
}

func (repo *achievementRepository) QueryLeaderboard(_ context.Context, limit int) ([]achievement.LeaderboardEntry, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	repo.users.RLock()
	defer repo.users.RUnlock()

	totals := make(map[int]*achievement.LeaderboardEntry)
	for _, ua := range repo.db.userAchs {
		if !ua.Unlocked {
			continue
		}
		ach, ok := repo.db.table[ua.AchievementID]
		if !ok {
			continue
		}
		entry, ok := totals[ua.UserID]
		if !ok {
			usr, found := repo.users.table[ua.UserID]
			if !found {
				continue
			}
			entry = &achievement.LeaderboardEntry{UserID: ua.UserID, Name: usr.Name}
			totals[ua.UserID] = entry
		}
		entry.Points += ach.Points
		entry.Unlocked++
	}

	entries := make([]achievement.LeaderboardEntry, 0, len(totals))
	for _, entry := range totals {
		entries = append(entries, *entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Points != entries[j].Points {
			return entries[i].Points > entries[j].Points
		}
		return entries[i].Name < entries[j].Name
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
