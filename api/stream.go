package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"ditto-api/domain"
)

// streamBoard pushes the board over SSE: once on connect and again after
// every change signal. Without a pinned day the board follows the calendar,
// so a connection left open across midnight starts serving the new day.
func streamBoard(svc Service, notifier Notifier) echo.HandlerFunc {
	return func(c echo.Context) error {
		var pinned domain.Day
		if raw := c.QueryParam("day"); raw != "" {
			day, err := domain.ParseDay(raw)
			if err != nil {
				return c.String(http.StatusBadRequest, "invalid day")
			}
			pinned = day
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		ctx := c.Request().Context()
		signals, cancel := notifier.Subscribe()
		defer cancel()

		// Once a frame has been flushed the response has started; an
		// error after that point can only be logged, not turned into a
		// status write.
		sent := false
		for {
			day := pinned
			if day == "" {
				day = domain.Today(time.Now)
			}
			if err := svc.EnsureDay(ctx, day); err != nil {
				c.Logger().Error(err)
				if sent {
					return nil
				}
				return err
			}
			board, err := svc.BoardForDay(ctx, day)
			if err != nil {
				c.Logger().Error(err)
				if sent {
					return nil
				}
				return err
			}
			data, err := json.Marshal(board)
			if err != nil {
				c.Logger().Error(err)
				if sent {
					return nil
				}
				return err
			}
			if _, err := c.Response().Write([]byte("data: ")); err != nil {
				return nil
			}
			if _, err := c.Response().Write(data); err != nil {
				return nil
			}
			if _, err := c.Response().Write([]byte("\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
			sent = true

			select {
			case <-ctx.Done():
				return nil
			case _, ok := <-signals:
				if !ok {
					return nil
				}
			}
		}
	}
}
