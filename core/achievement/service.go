package achievement

import (
	"context"
	"net/mail"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/clubhub/core"
	"github.com/trezcool/clubhub/core/user"
)

var (
	// errors
	ErrNotFound   = errors.New("achievement not found")
	ErrNameExists = errors.New("an achievement with this name already exists")
)

type (
	Repository interface {
		CheckNameUniqueness(ctx context.Context, name string) error
		CreateAchievement(ctx context.Context, ach Achievement) (Achievement, error)
		// QueryActiveAchievements returns active achievements in evaluation
		// order: ascending points, then name. The order is part of the
		// contract so unlock sequences are reproducible.
		QueryActiveAchievements(ctx context.Context) ([]Achievement, error)
		QueryAllAchievements(ctx context.Context) ([]Achievement, error)
		// IncrementCounter adjusts a (user, kind) counter by delta, flooring
		// at zero, and returns the new value.
		IncrementCounter(ctx context.Context, userID int, kind string, delta int) (int, error)
		GetCounters(ctx context.Context, userID int) (map[string]int, error)
		GetUserAchievements(ctx context.Context, userID int) ([]UserAchievement, error)
		UpsertUserAchievement(ctx context.Context, ua UserAchievement) (UserAchievement, error)
		QueryLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
	}

	// Cache is an optional read-through cache for leaderboard queries.
	Cache interface {
		GetLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, bool)
		SetLeaderboard(ctx context.Context, limit int, entries []LeaderboardEntry)
	}

	Service struct {
		repo    Repository
		users   user.Repository
		mailSvc core.EmailService
		cache   Cache // optional
		log     core.Logger
	}
)

func NewService(repo Repository, users user.Repository, mailSvc core.EmailService, cache Cache, log core.Logger) *Service {
	return &Service{repo: repo, users: users, mailSvc: mailSvc, cache: cache, log: log}
}

func (svc *Service) checkUniqueness(name string) error {
	if err := svc.repo.CheckNameUniqueness(context.Background(), name); err != nil {
		if errors.Cause(err) == ErrNameExists {
			return core.NewValidationError(err, core.FieldError{Field: "name", Error: err.Error()})
		}
		return err
	}
	return nil
}

func (svc *Service) Create(ctx context.Context, na NewAchievement) (Achievement, error) {
	ach := Achievement{
		Name:            na.Name,
		Description:     na.Description,
		Category:        na.Category,
		Points:          na.Points,
		RequirementKind: na.RequirementKind,
		Threshold:       na.Threshold,
		IsActive:        true,
		CreatedAt:       time.Now().UTC(),
	}
	return svc.repo.CreateAchievement(ctx, ach)
}

func (svc *Service) Query(ctx context.Context) ([]Achievement, error) {
	return svc.repo.QueryAllAchievements(ctx)
}

func (svc *Service) Progress(ctx context.Context, userID int) ([]UserAchievement, error) {
	return svc.repo.GetUserAchievements(ctx, userID)
}

// RecordActivity bumps a user's running counter for the given kind.
func (svc *Service) RecordActivity(ctx context.Context, userID int, kind string, delta int) error {
	_, err := svc.repo.IncrementCounter(ctx, userID, kind, delta)
	return err
}

// EventAttended is the ledger's hook: adjust the event counter and recompute.
func (svc *Service) EventAttended(ctx context.Context, userID, delta int) error {
	if err := svc.RecordActivity(ctx, userID, KindEventCount, delta); err != nil {
		return err
	}
	_, err := svc.Evaluate(ctx, userID)
	return err
}

// Evaluate recomputes the user's progress against every active achievement
// and unlocks any whose threshold is met. Unlocks are one-way; re-evaluating
// an unlocked achievement is a no-op. Deltas come back in evaluation order
// (ascending points, then name) so unlock sequences are stable.
func (svc *Service) Evaluate(ctx context.Context, userID int) ([]Delta, error) {
	counters, err := svc.repo.GetCounters(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "loading activity counters")
	}
	achievements, err := svc.repo.QueryActiveAchievements(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "loading achievements")
	}
	existing, err := svc.repo.GetUserAchievements(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "loading user achievements")
	}
	byAchievement := make(map[int]UserAchievement, len(existing))
	for _, ua := range existing {
		byAchievement[ua.AchievementID] = ua
	}

	var deltas []Delta
	for _, ach := range achievements {
		counter := counters[ach.RequirementKind]
		progress := computeProgress(counter, ach.Threshold)

		ua, ok := byAchievement[ach.ID]
		if ua.Unlocked {
			continue // monotonic: never re-locked, never re-announced
		}
		if !ok && progress == 0 {
			continue // created lazily once there is progress to record
		}
		if ok && progress == ua.Progress {
			continue
		}

		ua.UserID = userID
		ua.AchievementID = ach.ID
		ua.Progress = progress
		unlocked := counter >= ach.Threshold
		if unlocked {
			ua.Unlocked = true
			ua.UnlockedAt = null.TimeFrom(time.Now().UTC())
		}

		if ua, err = svc.repo.UpsertUserAchievement(ctx, ua); err != nil {
			return nil, errors.Wrap(err, "saving user achievement")
		}
		deltas = append(deltas, Delta{Achievement: ach, Progress: ua.Progress, Unlocked: ua.Unlocked})

		if unlocked {
			svc.log.Info("achievement unlocked",
				map[string]interface{}{"user": userID, "achievement": ach.Name})
			svc.notifyUnlock(ctx, userID, ach)
		}
	}
	return deltas, nil
}

// Leaderboard returns total unlocked points per user, best first, through
// the cache when one is configured.
func (svc *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	if svc.cache != nil {
		if entries, ok := svc.cache.GetLeaderboard(ctx, limit); ok {
			return entries, nil
		}
	}
	entries, err := svc.repo.QueryLeaderboard(ctx, limit)
	if err != nil {
		return nil, err
	}
	if svc.cache != nil {
		svc.cache.SetLeaderboard(ctx, limit, entries)
	}
	return entries, nil
}

func computeProgress(counter, threshold int) int {
	if threshold <= 0 {
		return 0
	}
	progress := 100 * counter / threshold
	if progress > 100 {
		progress = 100
	}
	return progress
}

func (svc *Service) notifyUnlock(ctx context.Context, userID int, ach Achievement) {
	if svc.mailSvc == nil {
		return
	}
	usr, err := svc.users.GetUser(ctx, user.GetFilter{ID: userID})
	if err != nil {
		svc.log.Error("loading user for unlock email", err)
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Badge unlocked: " + ach.Name,
		TemplateName: "achievement-unlocked",
		TemplateData: struct {
			Name            string
			AchievementName string
			Points          int
		}{usr.Name, ach.Name, ach.Points},
	})
}
