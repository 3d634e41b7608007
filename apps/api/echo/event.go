package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/clubhub/core"
	"github.com/trezcool/clubhub/core/event"
	"github.com/trezcool/clubhub/core/registration"
	"github.com/trezcool/clubhub/core/user"
)

type eventApi struct {
	svc    *event.Service
	regSvc *registration.Service
	usrSvc *user.Service
}

func registerEventAPI(g *echo.Group, jwt echo.MiddlewareFunc, opts *Options) {
	api := eventApi{
		svc:    opts.EventSvc,
		regSvc: opts.RegistrationSvc,
		usrSvc: opts.UserSvc,
	}

	eg := g.Group("/events", jwt)

	eg.GET("", api.query)
	eg.POST("", api.create, coordinatorMiddleware())

	dg := eg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, coordinatorMiddleware())
	dg.POST("/transition", api.transition, coordinatorMiddleware())
	dg.POST("/archive", api.archive, coordinatorMiddleware())
	dg.DELETE("", api.destroy, adminMiddleware())

	// registration ledger
	dg.POST("/register", api.register)
	dg.DELETE("/register", api.cancel)
	dg.GET("/registrations", api.queryRegistrations, coordinatorMiddleware())
	dg.PUT("/attendance/:userID", api.markAttendance, coordinatorMiddleware())
	dg.POST("/feedback", api.submitFeedback)
	dg.POST("/certificate", api.requestCertificate)
}

func (api *eventApi) eventID(ctx echo.Context) (int, error) {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		return 0, errHttpNotFound
	}
	return id, nil
}

// Handlers

func (api *eventApi) create(ctx echo.Context) error {
	var data event.NewEvent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewEvent")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	evt, err := api.svc.Create(ctx.Request().Context(), ctxUsr.ID, data)
	if err != nil {
		return errors.Wrap(err, "creating event")
	}
	return ctx.JSON(http.StatusCreated, evt)
}

func (api *eventApi) query(ctx echo.Context) error {
	filter := new(event.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []event.Event{})
	}
	filter.Clean()

	events, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying events")
	}
	if events == nil {
		events = []event.Event{}
	}
	return ctx.JSON(http.StatusOK, events)
}

func (api *eventApi) retrieve(ctx echo.Context) error {
	id, err := api.eventID(ctx)
	if err != nil {
		return err
	}
	evt, err := api.svc.GetByID(ctx.Request().Context(), id)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, evt)
}

func (api *eventApi) update(ctx echo.Context) error {
	id, err := api.eventID(ctx)
	if err != nil {
		return err
	}

	var data event.UpdateEvent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateEvent")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	evt, err := api.svc.Update(ctx.Request().Context(), id, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, evt)
}

func (api *eventApi) transition(ctx echo.Context) error {
	id, err := api.eventID(ctx)
	if err != nil {
		return err
	}

	var data TransitionRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to TransitionRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	evt, err := api.svc.Transition(ctx.Request().Context(), id, data.Status)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, evt)
}

func (api *eventApi) archive(ctx echo.Context) error {
	id, err := api.eventID(ctx)
	if err != nil {
		return err
	}
	evt, err := api.svc.Archive(ctx.Request().Context(), id)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, evt)
}

func (api *eventApi) destroy(ctx echo.Context) error {
	id, err := api.eventID(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.Delete(ctx.Request().Context(), id); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *eventApi) register(ctx echo.Context) error {
	id, err := api.eventID(ctx)
	if err != nil {
		return err
	}
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	reg, err := api.regSvc.Register(ctx.Request().Context(), ctxUsr.ID, id)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, reg)
}

func (api *eventApi) cancel(ctx echo.Context) error {
	id, err := api.eventID(ctx)
	if err != nil {
		return err
	}
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	reg, err := api.regSvc.Cancel(ctx.Request().Context(), ctxUsr.ID, id)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, reg)
}

func (api *eventApi) queryRegistrations(ctx echo.Context) error {
	id, err := api.eventID(ctx)
	if err != nil {
		return err
	}
	regs, err := api.regSvc.QueryByEvent(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "querying event registrations")
	}
	if regs == nil {
		regs = []registration.Registration{}
	}
	return ctx.JSON(http.StatusOK, regs)
}

func (api *eventApi) markAttendance(ctx echo.Context) error {
	id, err := api.eventID(ctx)
	if err != nil {
		return err
	}
	userID, err := strconv.Atoi(ctx.Param("userID"))
	if err != nil {
		return errHttpNotFound
	}

	var data AttendanceRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AttendanceRequest")
	}

	reg, err := api.regSvc.MarkAttended(ctx.Request().Context(), id, userID, data.Attended)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, reg)
}

func (api *eventApi) submitFeedback(ctx echo.Context) error {
	id, err := api.eventID(ctx)
	if err != nil {
		return err
	}
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	var data registration.Feedback
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Feedback")
	}

	reg, err := api.regSvc.SubmitFeedback(ctx.Request().Context(), ctxUsr.ID, id, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, reg)
}

func (api *eventApi) requestCertificate(ctx echo.Context) error {
	id, err := api.eventID(ctx)
	if err != nil {
		return err
	}
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	reg, err := api.regSvc.IssueCertificate(ctx.Request().Context(), id, ctxUsr.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, reg)
}

type (
	TransitionRequest struct {
		Status string `json:"status" validate:"required,oneof=upcoming ongoing completed archived cancelled"`
	}

	AttendanceRequest struct {
		Attended bool `json:"attended"`
	}
)

func (tr *TransitionRequest) Validate() error {
	tr.Status = core.CleanString(tr.Status, true /* lower */)
	return core.Validate.Struct(tr)
}
