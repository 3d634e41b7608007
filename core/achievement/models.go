package achievement

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/clubhub/core"
)

// Requirement kinds: the activity counter an achievement unlocks against.
const (
	KindEventCount   = "event_count"
	KindProjectCount = "project_count"
	KindSpecial      = "special"
)

type Achievement struct {
	ID              int       `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	Category        string    `json:"category"`
	Points          int       `json:"points"`
	RequirementKind string    `json:"requirement_kind"`
	Threshold       int       `json:"threshold"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
}

// UserAchievement tracks one user's progress towards one achievement.
// It is created lazily the first time progress is recorded; `Unlocked` is a
// one-way flag and is never reset.
type UserAchievement struct {
	ID            int       `json:"id"`
	UserID        int       `json:"user_id"`
	AchievementID int       `json:"achievement_id"`
	Progress      int       `json:"progress"` // 0-100
	Unlocked      bool      `json:"unlocked"`
	UnlockedAt    null.Time `json:"unlocked_at"`
}

// Delta is one change produced by an evaluation pass.
type Delta struct {
	Achievement Achievement `json:"achievement"`
	Progress    int         `json:"progress"`
	Unlocked    bool        `json:"unlocked"`
}

type LeaderboardEntry struct {
	UserID   int    `json:"user_id"`
	Name     string `json:"name"`
	Points   int    `json:"points"`
	Unlocked int    `json:"unlocked"`
}

// NewAchievement contains information needed to create a new Achievement.
type NewAchievement struct {
	Name            string `json:"name" validate:"required,notblank"`
	Description     string `json:"description"`
	Category        string `json:"category"`
	Points          int    `json:"points" validate:"min=0"`
	RequirementKind string `json:"requirement_kind" validate:"required,oneof=event_count project_count special"`
	Threshold       int    `json:"threshold" validate:"required,min=1"`
}

func (na *NewAchievement) Validate(svc *Service) error {
	na.Name = core.CleanString(na.Name)
	na.Description = core.CleanString(na.Description)
	na.Category = core.CleanString(na.Category, true /* lower */)
	if err := core.Validate.Struct(na); err != nil {
		return err
	}
	return svc.checkUniqueness(na.Name)
}

// RecordActivityRequest is the admin/coordinator payload for bumping a
// user's activity counter (project submissions, special awards...).
type RecordActivityRequest struct {
	Kind  string `json:"kind" validate:"required,oneof=event_count project_count special"`
	Delta int    `json:"delta"`
}

func (ra *RecordActivityRequest) Validate() error {
	if ra.Delta == 0 {
		ra.Delta = 1
	}
	return core.Validate.Struct(ra)
}
