package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tradejournal/internal/service"
)

// Rebuilder is the part of the rebuild service the HTTP API exposes.
type Rebuilder interface {
	RebuildPositionsFromTrades(ctx context.Context, filter service.RebuildFilter) (service.RebuildResult, error)
	LinkExecutions(ctx context.Context, executionIDs []int64, groupID *int64) (service.LinkResult, error)
	UnlinkExecutions(ctx context.Context, executionIDs []int64) (service.RebuildResult, error)
}

// RebuildHandler triggers rebuilds and edits link groups.
type RebuildHandler struct {
	rebuilder Rebuilder
	logger    *slog.Logger
}

// NewRebuildHandler creates a RebuildHandler.
func NewRebuildHandler(rebuilder Rebuilder, logger *slog.Logger) *RebuildHandler {
	return &RebuildHandler{rebuilder: rebuilder, logger: logHandler(logger, "rebuild")}
}

type linkRequest struct {
	ExecutionIDs []int64 `json:"execution_ids"`
	GroupID      *int64  `json:"group_id,omitempty"`
}

// Rebuild reruns the engine for the pairs matching the body, or every
// pair for an empty body. Pairs that failed to persist are listed in the
// summary; the response is 207 when any did.
// POST /api/rebuild {"account": "...", "instrument": "..."}
func (h *RebuildHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	var filter service.RebuildFilter
	if err := decodeJSON(r, &filter); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.rebuilder.RebuildPositionsFromTrades(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "rebuild failed", slog.String("error", err.Error()))
		writeError(w, statusFor(err), "rebuild failed")
		return
	}
	writeJSON(w, resultStatus(res), res)
}

// Link puts executions into one link group and rebuilds their pairs.
// POST /api/executions/link {"execution_ids": [1, 2], "group_id": 7}
func (h *RebuildHandler) Link(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.rebuilder.LinkExecutions(r.Context(), req.ExecutionIDs, req.GroupID)
	if err != nil {
		h.logger.WarnContext(r.Context(), "link executions failed",
			slog.Int("executions", len(req.ExecutionIDs)),
			slog.String("error", err.Error()),
		)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, resultStatus(res.Rebuild), res)
}

// Unlink clears the link group of executions and rebuilds their pairs.
// POST /api/executions/unlink {"execution_ids": [1, 2]}
func (h *RebuildHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.rebuilder.UnlinkExecutions(r.Context(), req.ExecutionIDs)
	if err != nil {
		h.logger.WarnContext(r.Context(), "unlink executions failed",
			slog.Int("executions", len(req.ExecutionIDs)),
			slog.String("error", err.Error()),
		)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, resultStatus(res), res)
}

func resultStatus(res service.RebuildResult) int {
	if len(res.Failed()) > 0 {
		return http.StatusMultiStatus
	}
	return http.StatusOK
}
