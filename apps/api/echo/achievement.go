package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/clubhub/core/achievement"
)

type achievementApi struct {
	svc *achievement.Service
}

func registerAchievementAPI(g *echo.Group, jwt echo.MiddlewareFunc, opts *Options) {
	api := achievementApi{svc: opts.AchievementSvc}

	ag := g.Group("/achievements", jwt)

	ag.GET("", api.query)
	ag.POST("", api.create, adminMiddleware())
	ag.GET("/leaderboard", api.leaderboard)
	ag.POST("/activity/:userID", api.recordActivity, coordinatorMiddleware())
	ag.POST("/evaluate/:userID", api.evaluate, coordinatorMiddleware())
}

// Handlers

func (api *achievementApi) create(ctx echo.Context) error {
	var data achievement.NewAchievement
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAchievement")
	}
	if err := data.Validate(api.svc); err != nil {
		return err
	}

	ach, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating achievement")
	}
	return ctx.JSON(http.StatusCreated, ach)
}

func (api *achievementApi) query(ctx echo.Context) error {
	achievements, err := api.svc.Query(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying achievements")
	}
	if achievements == nil {
		achievements = []achievement.Achievement{}
	}
	return ctx.JSON(http.StatusOK, achievements)
}

func (api *achievementApi) leaderboard(ctx echo.Context) error {
	limit, _ := strconv.Atoi(ctx.QueryParam("limit"))

	entries, err := api.svc.Leaderboard(ctx.Request().Context(), limit)
	if err != nil {
		return errors.Wrap(err, "querying leaderboard")
	}
	if entries == nil {
		entries = []achievement.LeaderboardEntry{}
	}
	return ctx.JSON(http.StatusOK, entries)
}

// recordActivity bumps a user's activity counter (project submissions,
// special awards...) and re-evaluates their achievements.
func (api *achievementApi) recordActivity(ctx echo.Context) error {
	userID, err := strconv.Atoi(ctx.Param("userID"))
	if err != nil {
		return errHttpNotFound
	}

	var data achievement.RecordActivityRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RecordActivityRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	if err := api.svc.RecordActivity(ctx.Request().Context(), userID, data.Kind, data.Delta); err != nil {
		return errors.Wrap(err, "recording activity")
	}
	deltas, err := api.svc.Evaluate(ctx.Request().Context(), userID)
	if err != nil {
		return errors.Wrap(err, "evaluating achievements")
	}
	if deltas == nil {
		deltas = []achievement.Delta{}
	}
	return ctx.JSON(http.StatusOK, deltas)
}

func (api *achievementApi) evaluate(ctx echo.Context) error {
	userID, err := strconv.Atoi(ctx.Param("userID"))
	if err != nil {
		return errHttpNotFound
	}

	deltas, err := api.svc.Evaluate(ctx.Request().Context(), userID)
	if err != nil {
		return errors.Wrap(err, "evaluating achievements")
	}
	if deltas == nil {
		deltas = []achievement.Delta{}
	}
	return ctx.JSON(http.StatusOK, deltas)
}
