package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"sniperbot/internal/engine"
	"sniperbot/internal/model"
	"sniperbot/internal/portfolio"
)

// Response is the envelope of every JSON reply.
type Response struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// TradesResponse is the body of GET /api/trades/:symbol.
type TradesResponse struct {
	Symbol  string           `json:"symbol"`
	Stats   model.TradeStats `json:"stats"`
	WinRate float64          `json:"win_rate"`
	Trades  []model.Position `json:"trades"`
}

type handlers struct {
	pos  Positions
	hist History
	log  zerolog.Logger
}

func reply(c echo.Context, status int, data any) error {
	return c.JSON(status, Response{Status: status, Message: http.StatusText(status), Data: data})
}

func (h *handlers) positions(c echo.Context) error {
	return reply(c, http.StatusOK, h.pos.Status())
}

func (h *handlers) trades(c echo.Context) error {
	symbol := model.NormalizeSymbol(c.Param("symbol"))
	closed, err := h.hist.ClosedPositions(c.Request().Context(), symbol)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("load trades")
		return reply(c, http.StatusInternalServerError, "failed to load trades")
	}
	if closed == nil {
		closed = []model.Position{}
	}
	stats := model.StatsFor(closed)
	return reply(c, http.StatusOK, TradesResponse{Symbol: symbol, Stats: stats, WinRate: stats.WinRate(), Trades: closed})
}

func (h *handlers) closePosition(c echo.Context) error {
	p, err := h.pos.ClosePosition(c.Request().Context(), c.Param("symbol"))
	if err != nil {
		return h.opError(c, "close", err)
	}
	h.log.Warn().Str("symbol", p.Symbol).Str("trade_id", p.TradeID).Float64("pnl", p.PnL).Msg("manual close")
	return reply(c, http.StatusOK, p)
}

func (h *handlers) cancelPosition(c echo.Context) error {
	p, err := h.pos.CancelPosition(c.Request().Context(), c.Param("symbol"))
	if err != nil {
		return h.opError(c, "cancel", err)
	}
	h.log.Warn().Str("symbol", p.Symbol).Str("trade_id", p.TradeID).Msg("manual cancel")
	return reply(c, http.StatusOK, p)
}

func (h *handlers) opError(c echo.Context, op string, err error) error {
	var ef *model.ExecutionFailure
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrUnknownSymbol):
		status = http.StatusNotFound
	case errors.Is(err, portfolio.ErrNoOpenPosition), errors.Is(err, engine.ErrNoPrice):
		status = http.StatusConflict
	case errors.As(err, &ef):
		status = http.StatusBadGateway
	}
	h.log.Error().Err(err).Str("op", op).Str("symbol", c.Param("symbol")).Msg("operator request failed")
	return reply(c, status, err.Error())
}
