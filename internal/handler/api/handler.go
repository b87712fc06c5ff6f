package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"SignalFuse/internal/domain/models"
	"SignalFuse/internal/services/indicators"
	"SignalFuse/internal/usecase"
	xhttp "SignalFuse/pkg/http"
	xlogger "SignalFuse/pkg/logger"
)

type AddressTracker interface {
	Track(ctx context.Context, address, correlationKey string) error
	Untrack(address string) error
	TrackedAddresses() []models.TrackedAddress
}

type MovementReader interface {
	Recent(limit int) []models.Movement
}

type MarketReader interface {
	Snapshot() []models.Instrument
	Get(id string) (models.Instrument, bool)
}

type AnomalyReader interface {
	Signals() ([]models.AnomalyEpisode, error)
	Episode(id string) (models.AnomalyEpisode, error)
}

type IndicatorSource interface {
	Indicators(ctx context.Context, instrumentID, interval string) (*models.TechnicalSignalSet, error)
}

type FeedStatus interface {
	State() models.FeedState
}

// Deps groups the read and write sides the API serves.
type Deps struct {
	Tracker    AddressTracker
	Movements  MovementReader
	Markets    MarketReader
	Anomalies  AnomalyReader
	Indicators IndicatorSource
	Feed       FeedStatus
}

// Handler serves the REST surface.
type Handler struct {
	logger *xlogger.Logger
	deps   Deps
}

func NewHandler(logger *xlogger.Logger, deps Deps) *Handler {
	return &Handler{logger: logger, deps: deps}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api")
	g.POST("/tracked", h.Track)
	g.GET("/tracked", h.ListTracked)
	g.DELETE("/tracked/:address", h.Untrack)
	g.GET("/markets", h.Markets)
	g.GET("/markets/:id", h.Market)
	g.GET("/markets/:id/indicators", h.Indicators)
	g.GET("/anomalies", h.Anomalies)
	g.GET("/anomalies/:id", h.Anomaly)
	g.GET("/movements", h.Movements)
}

type healthResponse struct {
	Status    string    `json:"status"`
	Feed      string    `json:"feed"`
	Markets   int       `json:"markets"`
	Tracked   int       `json:"tracked"`
	Timestamp time.Time `json:"timestamp"`
}

// Health reports ok while the feed is connected and degraded otherwise. It
// always answers 200 so a reconnecting feed does not fail liveness checks.
func (h *Handler) Health(c echo.Context) error {
	state := h.deps.Feed.State()
	status := "ok"
	if state != models.FeedConnected {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, healthResponse{
		Status:    status,
		Feed:      state.String(),
		Markets:   len(h.deps.Markets.Snapshot()),
		Tracked:   len(h.deps.Tracker.TrackedAddresses()),
		Timestamp: time.Now().UTC(),
	})
}

func (h *Handler) Track(c echo.Context) error {
	req := &models.TrackRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.deps.Tracker.Track(c.Request().Context(), req.Address, req.CorrelationKey); err != nil {
		if errors.Is(err, usecase.ErrInvalidAddress) {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestError("address", err.Error()))
		}
		h.logger.Error("track address failed", xlogger.String("address", req.Address), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("log subscription failed").WithError(err))
	}
	for _, t := range h.deps.Tracker.TrackedAddresses() {
		if t.Address == req.Address {
			return xhttp.CreatedResponse(c, t)
		}
	}
	return xhttp.CreatedResponse(c, models.TrackedAddress{Address: req.Address, CorrelationKey: req.CorrelationKey})
}

func (h *Handler) Untrack(c echo.Context) error {
	if err := h.deps.Tracker.Untrack(c.Param("address")); err != nil {
		h.logger.Error("untrack address failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.NoContentResponse(c)
}

func (h *Handler) ListTracked(c echo.Context) error {
	rows := h.deps.Tracker.TrackedAddresses()
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// Markets lists cached instruments; ?limit= caps the page.
func (h *Handler) Markets(c echo.Context) error {
	rows := h.deps.Markets.Snapshot()
	total := int64(len(rows))
	if limit := xhttp.QueryLimit(c, len(rows), 1000); limit < len(rows) {
		rows = rows[:limit]
	}
	return xhttp.ListResponse(c, rows, total)
}

func (h *Handler) Market(c echo.Context) error {
	in, ok := h.deps.Markets.Get(c.Param("id"))
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("market %s not found", c.Param("id")))
	}
	return xhttp.SuccessResponse(c, in)
}

func (h *Handler) Indicators(c echo.Context) error {
	req := &models.IndicatorsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	set, err := h.deps.Indicators.Indicators(c.Request().Context(), req.ID, req.Interval)
	switch {
	case err == nil:
		c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
		return xhttp.SuccessResponse(c, set)
	case errors.Is(err, usecase.ErrUnknownInstrument):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("market %s not found", req.ID))
	case errors.Is(err, indicators.ErrInsufficientData):
		return xhttp.AppErrorResponse(c, xhttp.UnprocessableError("not enough price history"))
	default:
		h.logger.Warn("indicators failed", xlogger.String("id", req.ID), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("price history unavailable").WithError(err))
	}
}

// Anomalies returns the current episode per oracle feed, newest first.
func (h *Handler) Anomalies(c echo.Context) error {
	eps, err := h.deps.Anomalies.Signals()
	if errors.Is(err, usecase.ErrInsufficientData) {
		return xhttp.ListResponse(c, []models.AnomalyEpisode{}, 0)
	}
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, eps, int64(len(eps)))
}

func (h *Handler) Anomaly(c echo.Context) error {
	ep, err := h.deps.Anomalies.Episode(c.Param("id"))
	if errors.Is(err, usecase.ErrInsufficientData) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no samples for feed %s", c.Param("id")))
	}
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, ep)
}

// Movements returns recent movements, newest first. ?since= filters by time.
func (h *Handler) Movements(c echo.Context) error {
	req := &models.MovementsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows := h.deps.Movements.Recent(req.Limit)
	if since, ok := xhttp.QueryTime(c, "since"); ok {
		kept := rows[:0]
		for _, m := range rows {
			if !m.Timestamp.Before(since) {
				kept = append(kept, m)
			}
		}
		rows = kept
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}
