package achievement_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/clubhub/core"
	"github.com/trezcool/clubhub/core/achievement"
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

type cacheMock struct {
	entries map[int][]achievement.LeaderboardEntry
	hits    int
	sets    int
}

func newCacheMock() *cacheMock {
	return &cacheMock{entries: make(map[int][]achievement.LeaderboardEntry)}
}

func (c *cacheMock) GetLeaderboard(_ context.Context, limit int) ([]achievement.LeaderboardEntry, bool) {
	entries, ok := c.entries[limit]
	if ok {
		c.hits++
	}
	return entries, ok
}

func (c *cacheMock) SetLeaderboard(_ context.Context, limit int, entries []achievement.LeaderboardEntry) {
	c.sets++
	c.entries[limit] = entries
}

type fixture struct {
	svc     *achievement.Service
	repo    achievement.Repository
	usrRepo user.Repository
	cache   *cacheMock
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db, err := dummydb.Open()
	require.NoError(t, err)

	f := &fixture{
		repo:    dummydb.NewAchievementRepository(db),
		usrRepo: dummydb.NewUserRepository(db),
		cache:   newCacheMock(),
	}
	f.svc = achievement.NewService(f.repo, f.usrRepo, emailsvc.NewConsoleServiceMock(), f.cache, testLogger{})
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

func (f *fixture) createAchievement(t *testing.T, name string, points, threshold int, kind string) achievement.Achievement {
	t.Helper()
	ach, err := f.svc.Create(context.Background(), achievement.NewAchievement{
		Name:            name,
		Points:          points,
		RequirementKind: kind,
		Threshold:       threshold,
	})
	require.NoError(t, err)
	return ach
}

func TestNewAchievement_Validate(t *testing.T) {
	f := setup(t)
	f.createAchievement(t, "First Steps", 10, 1, achievement.KindEventCount)

	tests := []struct {
		name    string
		na      achievement.NewAchievement
		wantErr string
	}{
		{name: "valid", na: achievement.NewAchievement{
			Name: "Regular", Points: 25, RequirementKind: achievement.KindEventCount, Threshold: 5}},
		{name: "duplicate name", na: achievement.NewAchievement{
			Name: "First Steps", Points: 10, RequirementKind: achievement.KindEventCount, Threshold: 1},
			wantErr: achievement.ErrNameExists.Error()},
		{name: "unknown kind", na: achievement.NewAchievement{
			Name: "Mystery", RequirementKind: "nope", Threshold: 1},
			wantErr: "oneof"},
		{name: "zero threshold", na: achievement.NewAchievement{
			Name: "Freebie", RequirementKind: achievement.KindSpecial},
			wantErr: "required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.na.Validate(f.svc)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestService_Evaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("rows are created lazily", func(t *testing.T) {
		f := setup(t)
		usr := f.createUser(t, "awe")
		f.createAchievement(t, "First Steps", 10, 1, achievement.KindEventCount)

		deltas, err := f.svc.Evaluate(ctx, usr.ID)
		require.NoError(t, err)
		assert.Empty(t, deltas)

		progress, err := f.svc.Progress(ctx, usr.ID)
		require.NoError(t, err)
		assert.Empty(t, progress)
	})

	t.Run("first attendance unlocks in evaluation order", func(t *testing.T) {
		f := setup(t)
		usr := f.createUser(t, "awe")
		first := f.createAchievement(t, "First Steps", 10, 1, achievement.KindEventCount)
		regular := f.createAchievement(t, "Regular", 25, 5, achievement.KindEventCount)
		f.createAchievement(t, "Builder", 30, 1, achievement.KindProjectCount)

		require.NoError(t, f.svc.RecordActivity(ctx, usr.ID, achievement.KindEventCount, 1))
		deltas, err := f.svc.Evaluate(ctx, usr.ID)
		require.NoError(t, err)

		require.Len(t, deltas, 2)
		assert.Equal(t, first.ID, deltas[0].Achievement.ID)
		assert.True(t, deltas[0].Unlocked)
		assert.Equal(t, 100, deltas[0].Progress)
		assert.Equal(t, regular.ID, deltas[1].Achievement.ID)
		assert.False(t, deltas[1].Unlocked)
		assert.Equal(t, 20, deltas[1].Progress)
	})

	t.Run("unlocks are one-way", func(t *testing.T) {
		f := setup(t)
		usr := f.createUser(t, "awe")
		f.createAchievement(t, "First Steps", 10, 1, achievement.KindEventCount)

		require.NoError(t, f.svc.EventAttended(ctx, usr.ID, 1))
		// attendance correction drops the counter back to zero
		require.NoError(t, f.svc.EventAttended(ctx, usr.ID, -1))

		progress, err := f.svc.Progress(ctx, usr.ID)
		require.NoError(t, err)
		require.Len(t, progress, 1)
		assert.True(t, progress[0].Unlocked)
		assert.True(t, progress[0].UnlockedAt.Valid)

		// re-evaluating stays quiet
		deltas, err := f.svc.Evaluate(ctx, usr.ID)
		require.NoError(t, err)
		assert.Empty(t, deltas)
	})

	t.Run("progress caps at 100", func(t *testing.T) {
		f := setup(t)
		usr := f.createUser(t, "awe")
		f.createAchievement(t, "Regular", 25, 5, achievement.KindEventCount)

		require.NoError(t, f.svc.RecordActivity(ctx, usr.ID, achievement.KindEventCount, 8))
		deltas, err := f.svc.Evaluate(ctx, usr.ID)
		require.NoError(t, err)
		require.Len(t, deltas, 1)
		assert.Equal(t, 100, deltas[0].Progress)
		assert.True(t, deltas[0].Unlocked)
	})

	t.Run("unchanged progress produces no delta", func(t *testing.T) {
		f := setup(t)
		usr := f.createUser(t, "awe")
		f.createAchievement(t, "Pillar", 100, 20, achievement.KindEventCount)

		require.NoError(t, f.svc.RecordActivity(ctx, usr.ID, achievement.KindEventCount, 2))
		deltas, err := f.svc.Evaluate(ctx, usr.ID)
		require.NoError(t, err)
		require.Len(t, deltas, 1)
		assert.Equal(t, 10, deltas[0].Progress)

		deltas, err = f.svc.Evaluate(ctx, usr.ID)
		require.NoError(t, err)
		assert.Empty(t, deltas)
	})
}

func TestService_RecordActivity_floorsAtZero(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	usr := f.createUser(t, "awe")

	require.NoError(t, f.svc.RecordActivity(ctx, usr.ID, achievement.KindEventCount, 1))
	require.NoError(t, f.svc.RecordActivity(ctx, usr.ID, achievement.KindEventCount, -5))

	counters, err := f.repo.GetCounters(ctx, usr.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, counters[achievement.KindEventCount])
}

func TestService_Leaderboard(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")
	carol := f.createUser(t, "carol")

	f.createAchievement(t, "First Steps", 10, 1, achievement.KindEventCount)
	f.createAchievement(t, "Regular", 25, 5, achievement.KindEventCount)

	// alice: both, bob: the first only, carol: nothing
	require.NoError(t, f.svc.EventAttended(ctx, alice.ID, 1))
	for i := 0; i < 4; i++ {
		require.NoError(t, f.svc.EventAttended(ctx, alice.ID, 1))
	}
	require.NoError(t, f.svc.EventAttended(ctx, bob.ID, 1))

	entries, err := f.svc.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, achievement.LeaderboardEntry{UserID: alice.ID, Name: "alice", Points: 35, Unlocked: 2}, entries[0])
	assert.Equal(t, achievement.LeaderboardEntry{UserID: bob.ID, Name: "bob", Points: 10, Unlocked: 1}, entries[1])
	_ = carol

	// second call is served from the cache
	assert.Equal(t, 1, f.cache.sets)
	_, err = f.svc.Leaderboard(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, f.cache.hits)
	assert.Equal(t, 1, f.cache.sets)
}

func TestService_Leaderboard_withoutCache(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.svc = achievement.NewService(f.repo, f.usrRepo, emailsvc.NewConsoleServiceMock(), nil, testLogger{})

	usr := f.createUser(t, "awe")
	f.createAchievement(t, "First Steps", 10, 1, achievement.KindEventCount)
	require.NoError(t, f.svc.EventAttended(ctx, usr.ID, 1))

	entries, err := f.svc.Leaderboard(ctx, 0) // default limit
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 10, entries[0].Points)
}
