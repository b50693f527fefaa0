package routes

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/samber/do"
	"github.com/yz4230/release-promoter/internal/entity"
	"github.com/yz4230/release-promoter/internal/usecase"
)

const defaultRunLimit = 20

func RegisterRestAPI(injector *do.Injector, e *echo.Echo) {
	g := e.Group("/api")

	g.GET("/queue", func(c echo.Context) error {
		usecase := do.MustInvoke[usecase.GetQueueUsecase](injector)
		doc, err := usecase.Execute(c.Request().Context())
		if err != nil {
			return errorResponse(c, err)
		}

		type response struct {
			entity.QueueDocument
			Counts map[entity.Status]int `json:"counts"`
		}
		return c.JSON(http.StatusOK, &response{QueueDocument: doc, Counts: doc.Counts()})
	})
	g.GET("/queue/:state", func(c echo.Context) error {
		state, err := entity.ParseStatus(c.Param("state"))
		if err != nil {
			return c.NoContent(http.StatusBadRequest)
		}
		usecase := do.MustInvoke[usecase.GetQueueUsecase](injector)
		doc, err := usecase.Execute(c.Request().Context())
		if err != nil {
			return errorResponse(c, err)
		}

		type response struct {
			State   entity.Status       `json:"state"`
			Entries []entity.QueueEntry `json:"entries"`
		}
		return c.JSON(http.StatusOK, &response{State: state, Entries: doc.List(state)})
	})

	g.GET("/evidence", func(c echo.Context) error {
		limit, err := queryLimit(c, 0)
		if err != nil {
			return c.NoContent(http.StatusBadRequest)
		}
		usecase := do.MustInvoke[usecase.ListEvidenceUsecase](injector)
		records, err := usecase.Execute(c.Request().Context(), limit)
		if err != nil {
			return errorResponse(c, err)
		}

		type response struct {
			Records []entity.EvidenceRecord `json:"records"`
		}
		return c.JSON(http.StatusOK, &response{Records: records})
	})
	g.GET("/evidence/:id", func(c echo.Context) error {
		usecase := do.MustInvoke[usecase.GetEvidenceUsecase](injector)
		record, err := usecase.Execute(c.Request().Context(), entity.NewID(c.Param("id")))
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(http.StatusOK, record)
	})

	g.GET("/runs", func(c echo.Context) error {
		limit, err := queryLimit(c, defaultRunLimit)
		if err != nil {
			return c.NoContent(http.StatusBadRequest)
		}
		usecase := do.MustInvoke[usecase.ListRunsUsecase](injector)
		runs, err := usecase.Execute(c.Request().Context(), limit)
		if err != nil {
			return errorResponse(c, err)
		}

		type response struct {
			Runs []*entity.PromotionRun `json:"runs"`
		}
		return c.JSON(http.StatusOK, &response{Runs: runs})
	})
	g.GET("/runs/:id", func(c echo.Context) error {
		usecase := do.MustInvoke[usecase.GetRunUsecase](injector)
		run, err := usecase.Execute(c.Request().Context(), entity.NewID(c.Param("id")))
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(http.StatusOK, run)
	})
}

func queryLimit(c echo.Context, fallback int) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid limit")
	}
	return n, nil
}

func errorResponse(c echo.Context, err error) error {
	switch {
	case errors.Is(err, entity.ErrNotFound):
		return c.NoContent(http.StatusNotFound)
	case errors.Is(err, entity.ErrInvalid):
		return c.NoContent(http.StatusBadRequest)
	case errors.Is(err, entity.ErrCorruptQueue):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}
	zerolog.Ctx(c.Request().Context()).Error().Err(err).Str("uri", c.Request().RequestURI).Msg("request failed")
	return c.NoContent(http.StatusInternalServerError)
}
