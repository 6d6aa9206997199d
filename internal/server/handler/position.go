package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tradejournal/internal/domain"
)

// PositionLister is what the position handler requires.
type PositionLister interface {
	ListPositions(ctx context.Context, filter domain.PositionFilter) ([]domain.Position, error)
}

// PositionHandler serves reconstructed positions.
type PositionHandler struct {
	positions PositionLister
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionLister, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{positions: positions, logger: logHandler(logger, "positions")}
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns positions filtered by account, instrument and
// status.
// GET /api/positions?account=&instrument=&status=open|closed&limit=&offset=
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := parseListOpts(r)

	filter := domain.PositionFilter{
		Account:    q.Get("account"),
		Instrument: q.Get("instrument"),
		Limit:      opts.Limit,
		Offset:     opts.Offset,
	}
	switch s := domain.PositionStatus(q.Get("status")); s {
	case "", domain.PositionStatusOpen, domain.PositionStatusClosed:
		filter.Status = s
	default:
		writeError(w, http.StatusBadRequest, "status must be open or closed")
		return
	}

	positions, err := h.positions.ListPositions(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list positions failed",
			slog.String("account", filter.Account),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}
