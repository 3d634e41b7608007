package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/clubhub/core/achievement"
)

type achievementRepository struct {
	db *sqlx.DB
}

var _ achievement.Repository = (*achievementRepository)(nil) // interface compliance check

func NewAchievementRepository(db *sqlx.DB) achievement.Repository {
	return &achievementRepository{db: db}
}

type achievementRow struct {
	ID              int       `db:"id"`
	Name            string    `db:"name"`
	Description     string    `db:"description"`
	Category        string    `db:"category"`
	Points          int       `db:"points"`
	RequirementKind string    `db:"requirement_kind"`
	Threshold       int       `db:"threshold"`
	IsActive        bool      `db:"is_active"`
	CreatedAt       time.Time `db:"created_at"`
}

const achievementColumns = `id, name, description, category, points,
	requirement_kind, threshold, is_active, created_at`

func (r achievementRow) toAchievement() achievement.Achievement {
	return achievement.Achievement{
		ID:              r.ID,
		Name:            r.Name,
		Description:     r.Description,
		Category:        r.Category,
		Points:          r.Points,
		RequirementKind: r.RequirementKind,
		Threshold:       r.Threshold,
		IsActive:        r.IsActive,
		CreatedAt:       r.CreatedAt,
	}
}

func toAchievements(rows []achievementRow) []achievement.Achievement {
	achievements := make([]achievement.Achievement, 0, len(rows))
	for _, row := range rows {
		achievements = append(achievements, row.toAchievement())
	}
	return achievements
}

type userAchievementRow struct {
	ID            int       `db:"id"`
	UserID        int       `db:"user_id"`
	AchievementID int       `db:"achievement_id"`
	Progress      int       `db:"progress"`
	Unlocked      bool      `db:"unlocked"`
	UnlockedAt    null.Time `db:"unlocked_at"`
}

const userAchievementColumns = `id, user_id, achievement_id, progress, unlocked, unlocked_at`

func (r userAchievementRow) toUserAchievement() achievement.UserAchievement {
	return achievement.UserAchievement{
		ID:            r.ID,
		UserID:        r.UserID,
		AchievementID: r.AchievementID,
		Progress:      r.Progress,
		Unlocked:      r.Unlocked,
		UnlockedAt:    r.UnlockedAt,
	}
}

func (repo *achievementRepository) CheckNameUniqueness(ctx context.Context, name string) error {
	ctx, cancel := dbCtx(ctx)
	defer cancel()

	var exists bool
	err := repo.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM achievement WHERE name = $1)`, name)
	if err != nil {
		return wrapErr(err, "checking achievement name uniqueness")
	}
	if exists {
		return achievement.ErrNameExists
	}
	return nil
}

func (repo *achievementRepository) CreateAchievement(ctx context.Context, ach achievement.Achievement) (achievement.Achievement, error) {
	ctx, cancel := dbCtx(ctx)
	defer cancel()

	var row achievementRow
	err := repo.db.GetContext(ctx, &row, `
		INSERT INTO achievement (name, description, category, points, requirement_kind,
		                         threshold, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+achievementColumns,
		ach.Name, ach.Description, ach.Category, ach.Points, ach.RequirementKind,
		ach.Threshold, ach.IsActive, ach.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "achievement_name_key") {
			return achievement.Achievement{}, achievement.ErrNameExists
		}
		return achievement.Achievement{}, wrapErr(err, "creating achievement")
	}
	return row.toAchievement(), nil
}

func (repo *achievementRepository) QueryActiveAchievements(ctx context.Context) ([]achievement.Achievement, error) {
	ctx, cancel := dbCtx(ctx)
	defer cancel()

	var rows []achievementRow
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT `+achievementColumns+` FROM achievement
		WHERE is_active
		ORDER BY points, name`)
	if err != nil {
		return nil, wrapErr(err, "querying active achievements")
	}
	return toAchievements(rows), nil
}

func (repo *achievementRepository) QueryAllAchievements(ctx context.Context) ([]achievement.Achievement, error) {
	ctx, cancel := dbCtx(ctx)
	defer cancel()

	var rows []achievementRow
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT `+achievementColumns+` FROM achievement ORDER BY points, name`)
	if err != nil {
		return nil, wrapErr(err, "querying achievements")
	}
	return toAchievements(rows), nil
}

// IncrementCounter upserts the (user, kind) counter, flooring at zero so a
// correction can never drive it negative.
func (repo *achievementRepository) IncrementCounter(ctx context.Context, userID int, kind string, delta int) (int, error) {
	ctx, cancel := dbCtx(ctx)
	defer cancel()

	var count int
	err := repo.db.GetContext(ctx, &count, `
		INSERT INTO activity_counter (user_id, kind, count)
		VALUES ($1, $2, GREATEST($3, 0))
		ON CONFLICT (user_id, kind)
		DO UPDATE SET count = GREATEST(activity_counter.count + $3, 0)
		RETURNING count`,
		userID, kind, delta,
	)
	if err != nil {
		return 0, wrapErr(err, "incrementing activity counter")
	}
	return count, nil
}

func (repo *achievementRepository) GetCounters(ctx context.Context, userID int) (map[string]int, error) {
	ctx, cancel := dbCtx(ctx)
	defer cancel()

	var rows []struct {
		Kind  string `db:"kind"`
		Count int    `db:"count"`
	}
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT kind, count FROM activity_counter WHERE user_id = $1`, userID)
	if err != nil {
		return nil, wrapErr(err, "getting activity counters")
	}

	counters := make(map[string]int, len(rows))
	for _, row := range rows {
		counters[row.Kind] = row.Count
	}
	return counters, nil
}

func (repo *achievementRepository) GetUserAchievements(ctx context.Context, userID int) ([]achievement.UserAchievement, error) {
	ctx, cancel := dbCtx(ctx)
	defer cancel()

	var rows []userAchievementRow
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT `+userAchievementColumns+` FROM user_achievement
		WHERE user_id = $1
		ORDER BY achievement_id`,
		userID,
	)
	if err != nil {
		return nil, wrapErr(err, "getting user achievements")
	}

	uas := make([]achievement.UserAchievement, 0, len(rows))
	for _, row := range rows {
		uas = append(uas, row.toUserAchievement())
	}
	return uas, nil
}

// UpsertUserAchievement writes progress for (user, achievement). The unlock
// flag and timestamp only ever move forward, even under concurrent
// evaluations.
func (repo *achievementRepository) UpsertUserAchievement(ctx context.Context, ua achievement.UserAchievement) (achievement.UserAchievement, error) {
	ctx, cancel := dbCtx(ctx)
	defer cancel()

	var row userAchievementRow
	err := repo.db.GetContext(ctx, &row, `
		INSERT INTO user_achievement (user_id, achievement_id, progress, unlocked, unlocked_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, achievement_id)
		DO UPDATE SET
			progress = EXCLUDED.progress,
			unlocked = user_achievement.unlocked OR EXCLUDED.unlocked,
			unlocked_at = COALESCE(user_achievement.unlocked_at, EXCLUDED.unlocked_at)
		RETURNING `+userAchievementColumns,
		ua.UserID, ua.AchievementID, ua.Progress, ua.Unlocked, ua.UnlockedAt,
	)
	if err != nil {
		return achievement.UserAchievement{}, wrapErr(err, "upserting user achievement")
	}
	return row.toUserAchievement(), nil
}

func (repo *achievementRepository) QueryLeaderboard(ctx context.Context, limit int) ([]achievement.LeaderboardEntry, error) {
	ctx, cancel := dbCtx(ctx)
	defer cancel()

	var rows []struct {
		UserID   int    `db:"user_id"`
		Name     string `db:"name"`
		Points   int    `db:"points"`
		Unlocked int    `db:"unlocked"`
	}
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT u.id AS user_id, u.name, COALESCE(SUM(a.points), 0) AS points, COUNT(a.id) AS unlocked
		FROM "user" u
		JOIN user_achievement ua ON ua.user_id = u.id AND ua.unlocked
		JOIN achievement a ON a.id = ua.achievement_id
		GROUP BY u.id, u.name
		ORDER BY points DESC, u.name
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, wrapErr(err, "querying leaderboard")
	}

	entries := make([]achievement.LeaderboardEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, achievement.LeaderboardEntry{
			UserID: row.UserID, Name: row.Name, Points: row.Points, Unlocked: row.Unlocked,
		})
	}
	return entries, nil
}
