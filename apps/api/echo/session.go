package echoapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/session"
	"github.com/trezcool/mahudhurio/realtime"
)

type sessionApi struct {
	svc        *session.Service
	feed       realtime.Feed
	logger     core.Logger
	conf       *core.Config
	validate   *validator.Validate
	translator ut.Translator

	// watcherCtx parents the per-session expiry watchers; they stop when
	// the server shuts down.
	watcherCtx context.Context
}

func registerSessionAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps, watcherCtx context.Context) {
	api := sessionApi{
		svc:        deps.SessionSvc,
		feed:       deps.Feed,
		logger:     deps.Logger,
		conf:       deps.Conf,
		validate:   deps.Validate,
		translator: deps.Translator,
		watcherCtx: watcherCtx,
	}

	sg := g.Group("/sessions", jwt)
	sg.POST("", api.start, lecturerMiddleware())

	dg := sg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.POST("/end", api.end, lecturerMiddleware())
	dg.POST("/scans", api.scan, studentMiddleware())
	dg.POST("/checks", api.triggerCheck, lecturerMiddleware())
	dg.POST("/sentiments", api.submitSentiment, studentMiddleware())
	dg.GET("/attendance", api.attendance, lecturerMiddleware())
	dg.GET("/sentiments", api.sentimentTally)
	dg.GET("/anomalies", api.anomalies, lecturerMiddleware())
	dg.GET("/events", api.events)

	cg := g.Group("/checks/:id", jwt)
	cg.POST("/responses", api.respondToCheck, studentMiddleware())
	cg.POST("/end", api.endCheck, lecturerMiddleware())
	cg.GET("/tally", api.checkTally, lecturerMiddleware())
}

// Handlers

func (api *sessionApi) start(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data session.NewSession
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSession")
	}
	data.LecturerID = claims.Subject
	if err := data.Validate(api.validate, api.conf); err != nil {
		return err
	}

	sess, err := api.svc.Start(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "starting session")
	}

	// each server tracks expiry on its own clock; ending is idempotent at
	// the store so concurrent watchers are fine
	go session.NewWatcher(api.svc, sess, api.logger).Run(api.watcherCtx)

	return ctx.JSON(http.StatusCreated, newSessionResponse(sess, sess.StartedAt, 0, true))
}

func (api *sessionApi) end(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	sess, err := api.svc.End(ctx.Request().Context(), ctx.Param("id"), claims.Subject)
	if err != nil {
		return errors.Wrap(err, "ending session")
	}
	count, err := api.svc.AttendeeCount(ctx.Request().Context(), sess.ID)
	if err != nil {
		return errors.Wrap(err, "counting attendees")
	}
	return ctx.JSON(http.StatusOK, newSessionResponse(sess, sess.EndsAt, count, true))
}

func (api *sessionApi) retrieve(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	reqCtx := ctx.Request().Context()
	sess, err := api.svc.Get(reqCtx, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting session")
	}
	remaining, err := api.svc.Remaining(reqCtx, sess.ID)
	if err != nil {
		return errors.Wrap(err, "getting remaining time")
	}
	count, err := api.svc.AttendeeCount(reqCtx, sess.ID)
	if err != nil {
		return errors.Wrap(err, "counting attendees")
	}

	resp := newSessionResponse(sess, sess.EndsAt.Add(-remaining), count, claims.Subject == sess.LecturerID)
	return ctx.JSON(http.StatusOK, resp)
}

func (api *sessionApi) scan(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data session.ScanInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ScanInput")
	}
	data.SessionID = ctx.Param("id")
	data.StudentID = claims.Subject
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	rec, err := api.svc.SubmitScan(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "submitting scan")
	}
	return ctx.JSON(http.StatusCreated, rec)
}

func (api *sessionApi) triggerCheck(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	chk, err := api.svc.TriggerCheck(ctx.Request().Context(), ctx.Param("id"), claims.Subject)
	if err != nil {
		return errors.Wrap(err, "triggering check")
	}
	return ctx.JSON(http.StatusCreated, newCheckResponse(chk, chk.CreatedAt))
}

func (api *sessionApi) endCheck(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	chk, err := api.svc.EndCheck(ctx.Request().Context(), ctx.Param("id"), claims.Subject)
	if err != nil {
		return errors.Wrap(err, "ending check")
	}
	return ctx.JSON(http.StatusOK, newCheckResponse(chk, chk.ExpiresAt))
}

func (api *sessionApi) respondToCheck(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data session.CheckResponseInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CheckResponseInput")
	}
	data.CheckID = ctx.Param("id")
	data.StudentID = claims.Subject
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	resp, err := api.svc.RespondToCheck(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "responding to check")
	}
	return ctx.JSON(http.StatusCreated, resp)
}

func (api *sessionApi) submitSentiment(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data session.SentimentInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SentimentInput")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sig, err := api.svc.SubmitSentiment(ctx.Request().Context(), ctx.Param("id"), claims.Subject, data.Value)
	if err != nil {
		return errors.Wrap(err, "submitting sentiment")
	}
	return ctx.JSON(http.StatusCreated, sig)
}

func (api *sessionApi) attendance(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	id := ctx.Param("id")

	if _, err := api.svc.Get(reqCtx, id); err != nil {
		return errors.Wrap(err, "getting session")
	}
	recs, err := api.svc.LiveFeed(reqCtx, id)
	if err != nil {
		return errors.Wrap(err, "listing attendance")
	}
	return ctx.JSON(http.StatusOK, AttendanceFeedResponse{SessionID: id, Count: len(recs), Records: recs})
}

func (api *sessionApi) sentimentTally(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	id := ctx.Param("id")

	if _, err := api.svc.Get(reqCtx, id); err != nil {
		return errors.Wrap(err, "getting session")
	}
	tally, err := api.svc.SentimentTally(reqCtx, id)
	if err != nil {
		return errors.Wrap(err, "tallying sentiment")
	}
	return ctx.JSON(http.StatusOK, SentimentTallyResponse{SessionID: id, Tally: tally})
}

func (api *sessionApi) checkTally(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()

	chk, err := api.svc.GetCheck(reqCtx, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting check")
	}
	responses, err := api.svc.CheckTally(reqCtx, chk.ID)
	if err != nil {
		return errors.Wrap(err, "tallying check responses")
	}
	attendees, err := api.svc.AttendeeCount(reqCtx, chk.SessionID)
	if err != nil {
		return errors.Wrap(err, "counting attendees")
	}
	return ctx.JSON(http.StatusOK, CheckTallyResponse{
		CheckID:       chk.ID,
		ResponseCount: responses,
		AttendeeCount: attendees,
	})
}

func (api *sessionApi) anomalies(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	id := ctx.Param("id")

	if _, err := api.svc.Get(reqCtx, id); err != nil {
		return errors.Wrap(err, "getting session")
	}
	anomalies, err := api.svc.Anomalies(reqCtx, id)
	if err != nil {
		return errors.Wrap(err, "listing anomalies")
	}
	return ctx.JSON(http.StatusOK, AnomaliesResponse{SessionID: id, Anomalies: anomalies})
}

// events streams the session's change feed as server-sent events. A client
// that loses the stream reconnects and resyncs from the read endpoints.
func (api *sessionApi) events(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	id := ctx.Param("id")

	if _, err := api.svc.Get(reqCtx, id); err != nil {
		return errors.Wrap(err, "getting session")
	}

	sub, err := api.feed.Subscribe(reqCtx, realtime.Scope{SessionID: id})
	if err != nil {
		return errors.Wrap(err, "subscribing to change feed")
	}
	defer func() { _ = sub.Close() }()

	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	for {
		select {
		case <-reqCtx.Done():
			return nil
		case event, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					api.logger.Warn("event stream dropped", err)
				}
				return nil
			}
			data, err := json.Marshal(event)
			if err != nil {
				return errors.Wrap(err, "encoding event")
			}
			if _, err = fmt.Fprintf(res, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Entity, data); err != nil {
				return nil // client went away
			}
			res.Flush()
		}
	}
}
