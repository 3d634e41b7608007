package main

import (
	"context"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/clubhub/core/achievement"
	"github.com/trezcool/clubhub/core/event"
	"github.com/trezcool/clubhub/core/user"
)

// seed loads a starter data set: a coordinator account, a couple of events
// and the default achievement ladder. Safe to re-run; duplicates are skipped.
func (cli *commandLine) seed() error {
	ctx := context.Background()
	now := time.Now().UTC()

	coord := user.User{
		Name:       "Club Coordinator",
		Username:   "coordinator",
		Email:      "coordinator@clubhub.local",
		IsActive:   true,
		IsVerified: true,
		Roles:      []string{user.RoleCoordinator, user.RoleStudent},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := coord.SetPassword("changeme123"); err != nil {
		return err
	}
	coord, err := cli.usrRepo.UpdateOrCreateUser(ctx, coord)
	if err != nil {
		return err
	}

	events := []event.Event{
		{
			Title:             "Intro to Git",
			Description:       "Hands-on workshop covering branches, merges and pull requests.",
			StartsAt:          now.Add(7 * 24 * time.Hour),
			EndsAt:            null.TimeFrom(now.Add(7*24*time.Hour + 2*time.Hour)),
			Venue:             "Lab 2",
			Category:          "workshop",
			Capacity:          null.IntFrom(30),
			OrganizerID:       coord.ID,
			Status:            event.StatusUpcoming,
			RegistrationsOpen: true,
			CreatedAt:         now,
			UpdatedAt:         now,
		},
		{
			Title:             "Monthly Hack Night",
			Description:       "Bring a project, pair up, ship something.",
			StartsAt:          now.Add(14 * 24 * time.Hour),
			OnlineLink:        "https://meet.clubhub.local/hack-night",
			Category:          "social",
			OrganizerID:       coord.ID,
			Status:            event.StatusUpcoming,
			RegistrationsOpen: true,
			CreatedAt:         now,
			UpdatedAt:         now,
		},
	}
	for _, evt := range events {
		if _, err := cli.evtRepo.CreateEvent(ctx, evt); err != nil {
			return err
		}
	}

	achievements := []achievement.Achievement{
		{Name: "First Steps", Description: "Attend your first event.", Category: "attendance",
			Points: 10, RequirementKind: achievement.KindEventCount, Threshold: 1, IsActive: true, CreatedAt: now},
		{Name: "Regular", Description: "Attend 5 events.", Category: "attendance",
			Points: 25, RequirementKind: achievement.KindEventCount, Threshold: 5, IsActive: true, CreatedAt: now},
		{Name: "Pillar of the Club", Description: "Attend 20 events.", Category: "attendance",
			Points: 100, RequirementKind: achievement.KindEventCount, Threshold: 20, IsActive: true, CreatedAt: now},
		{Name: "Builder", Description: "Submit your first project.", Category: "projects",
			Points: 30, RequirementKind: achievement.KindProjectCount, Threshold: 1, IsActive: true, CreatedAt: now},
	}
	for _, ach := range achievements {
		if _, err := cli.achRepo.CreateAchievement(ctx, ach); err != nil {
			if err == achievement.ErrNameExists {
				continue
			}
			return err
		}
	}
	return nil
}
