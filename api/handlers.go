package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"ditto-api/ditto"
	"ditto-api/domain"
	"ditto-api/storage"
)

const requestBodyMaxSize = 64 * 1024

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, svc Service, notifier Notifier, logger *log.Logger) {
	e.GET("/api/board/:day", getBoard(svc, logger))
	e.GET("/api/templates/:day", getTemplates(svc))
	e.POST("/api/todos", postTodo(svc))
	e.PATCH("/api/todos/:id", patchTodo(svc))
	e.DELETE("/api/todos/:id", deleteTodo(svc))
	e.POST("/api/board/:day/reorder", postReorder(svc))
	e.DELETE("/api/board/:day", purgeBoard(svc))
	e.GET("/api/stream", streamBoard(svc, notifier))
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getBoard(svc Service, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newBoardRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		day, parseErr := domain.ParseDay(c.Param("day"))
		if parseErr != nil {
			metrics.SetErrorStage("invalid_day")
			err = c.String(http.StatusBadRequest, "invalid day")
			return err
		}

		ensureStart := time.Now()
		if ensureErr := svc.EnsureDay(ctx, day); ensureErr != nil {
			metrics.SetErrorStage("materialize")
			err = writeError(c, ensureErr)
			return err
		}
		metrics.ObserveEnsure(time.Since(ensureStart))

		fetchStart := time.Now()
		board, fetchErr := svc.BoardForDay(ctx, day)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			err = writeError(c, fetchErr)
			return err
		}
		metrics.SetTodosReturned(len(board.Todos))
		metrics.SetStreak(board.Streak, board.Victory)

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, board)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func getTemplates(svc Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		day, err := domain.ParseDay(c.Param("day"))
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid day")
		}
		templates, err := svc.ActiveTemplates(c.Request().Context(), day)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, templates)
	}
}

type createTodoRequest struct {
	Day   string `json:"day"`
	Label string `json:"label"`
}

func postTodo(svc Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createTodoRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		day, err := domain.ParseDay(req.Day)
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid day")
		}
		if req.Label == "" {
			return c.String(http.StatusBadRequest, "missing label")
		}
		in, err := svc.CreateTodo(c.Request().Context(), day, req.Label)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, in)
	}
}

func patchTodo(svc Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		in, err := svc.FindTodo(ctx, c.Param("id"))
		if err != nil {
			return writeError(c, err)
		}
		var changes domain.TodoChanges
		if err := decodeBody(c, &changes); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		var updated domain.Instance
		if changes.Done != nil && changes.Label == nil && changes.Order == nil {
			// A bare completion toggle never propagates to the template.
			updated, err = svc.ToggleTodo(ctx, in, *changes.Done)
		} else {
			updated, err = svc.UpdateTodo(ctx, in, changes)
		}
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, updated)
	}
}

func deleteTodo(svc Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		in, err := svc.FindTodo(ctx, c.Param("id"))
		if err != nil {
			return writeError(c, err)
		}
		if err := svc.DeleteTodo(ctx, in); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

type reorderRequest struct {
	Source      int `json:"source"`
	Destination int `json:"destination"`
}

func postReorder(svc Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		day, err := domain.ParseDay(c.Param("day"))
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid day")
		}
		var req reorderRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		agenda, err := svc.AgendaForDay(ctx, day)
		if err != nil {
			return writeError(c, err)
		}
		if err := svc.Reorder(ctx, agenda, req.Source, req.Destination); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func purgeBoard(svc Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		day, err := domain.ParseDay(c.Param("day"))
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid day")
		}
		if err := svc.PurgeDay(c.Request().Context(), day); err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeError maps the error taxonomy onto HTTP statuses: contract
// violations are the caller's fault, backend unavailability is recoverable
// and retry-worthy, everything else is a plain failure.
func writeError(c echo.Context, err error) error {
	var scopeErr domain.InvalidScopeError
	var emptyErr domain.EmptyInputError
	var backendErr storage.BackendUnavailableError
	switch {
	case errors.Is(err, ditto.ErrNotFound):
		return c.String(http.StatusNotFound, err.Error())
	case errors.Is(err, ditto.ErrNotToday), errors.As(err, &scopeErr), errors.As(err, &emptyErr):
		return c.String(http.StatusBadRequest, err.Error())
	case errors.As(err, &backendErr):
		return c.String(http.StatusServiceUnavailable, err.Error())
	default:
		c.Logger().Error(err)
		return c.String(http.StatusInternalServerError, err.Error())
	}
}
