package domain

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PositionType is the side of a reconstructed position.
type PositionType string

const (
	PositionTypeLong  PositionType = "Long"
	PositionTypeShort PositionType = "Short"
)

// Direction returns the running-quantity sign that opens this position type.
func (t PositionType) Direction() Direction {
	if t == PositionTypeShort {
		return DirectionShort
	}
	return DirectionLong
}

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// Origin records which candidate group produced a position. Sequential is
// set when the group came from a time-ordered regrouping rather than the
// side/proximity heuristic.
type Origin struct {
	GroupIndex  int    `json:"group_index"`
	LinkGroupID *int64 `json:"link_group_id,omitempty"`
	Sequential  bool   `json:"sequential,omitempty"`
}

// Explicit reports whether the position came from a user link group.
func (o Origin) Explicit() bool {
	return o.LinkGroupID != nil
}

// Position is one continuous period of non-zero net exposure in a single
// account/instrument. Status is the variant tag: ExitTime and
// AverageExitPrice are set only for closed positions.
type Position struct {
	ID                string            `json:"id"`
	Account           string            `json:"account"`
	Instrument        string            `json:"instrument"`
	Type              PositionType      `json:"position_type"`
	EntryTime         time.Time         `json:"entry_time"`
	ExitTime          *time.Time        `json:"exit_time,omitempty"`
	TotalQuantity     int64             `json:"total_quantity"`
	OpenQuantity      int64             `json:"open_quantity"`
	AverageEntryPrice float64           `json:"average_entry_price"`
	AverageExitPrice  *float64          `json:"average_exit_price,omitempty"`
	TotalPointsPnL    float64           `json:"total_points_pnl"`
	TotalDollarsPnL   float64           `json:"total_dollars_pnl"`
	TotalCommission   float64           `json:"total_commission"`
	Status            PositionStatus    `json:"position_status"`
	ExecutionCount    int               `json:"execution_count"`
	RiskRewardRatio   *float64          `json:"risk_reward_ratio,omitempty"`
	Executions        []ExecutionRecord `json:"executions,omitempty"`
	SourcePositionIDs []string          `json:"source_position_ids,omitempty"`
	Origin            Origin            `json:"origin"`
}

func (p Position) IsOpen() bool   { return p.Status == PositionStatusOpen }
func (p Position) IsClosed() bool { return p.Status == PositionStatusClosed }

// Pair returns the (account, instrument) key of the position.
func (p Position) Pair() Pair {
	return Pair{Account: p.Account, Instrument: p.Instrument}
}

// ExecutionIDs returns the contributing execution ids in position order.
func (p Position) ExecutionIDs() []int64 {
	ids := make([]int64, len(p.Executions))
	for i, e := range p.Executions {
		ids[i] = e.ID
	}
	return ids
}

// Links builds the join rows for the position's executions.
func (p Position) Links() []PositionExecutionLink {
	links := make([]PositionExecutionLink, len(p.Executions))
	for i, e := range p.Executions {
		links[i] = PositionExecutionLink{PositionID: p.ID, ExecutionID: e.ID, Ordinal: i}
	}
	return links
}

// positionNamespace seeds deterministic position ids.
var positionNamespace = uuid.MustParse("8f5d3c1e-6b0a-4c8e-9a57-2f1d0b7e4a63")

// PositionID derives a stable id from the pair and the contributing
// executions, so rebuilding unchanged input yields identical ids.
func PositionID(account, instrument string, executionIDs []int64) string {
	ids := append([]int64(nil), executionIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var b strings.Builder
	b.WriteString(account)
	b.WriteByte(0)
	b.WriteString(instrument)
	for _, id := range ids {
		b.WriteByte(0)
		b.WriteString(strconv.FormatInt(id, 10))
	}
	return uuid.NewSHA1(positionNamespace, []byte(b.String())).String()
}

// PositionExecutionLink joins a position to one contributing execution.
type PositionExecutionLink struct {
	PositionID  string `json:"position_id"`
	ExecutionID int64  `json:"execution_id"`
	Ordinal     int    `json:"ordinal"`
}

// PositionFilter scopes position listings.
type PositionFilter struct {
	Account    string
	Instrument string
	Status     PositionStatus
	Limit      int
	Offset     int
}

// SortExecutions orders executions by entry time, breaking ties by id.
func SortExecutions(execs []ExecutionRecord) {
	sort.SliceStable(execs, func(i, j int) bool {
		if !execs[i].EntryTime.Equal(execs[j].EntryTime) {
			return execs[i].EntryTime.Before(execs[j].EntryTime)
		}
		return execs[i].ID < execs[j].ID
	})
}

// SortPositions orders positions by entry time, breaking ties by id.
func SortPositions(positions []Position) {
	sort.SliceStable(positions, func(i, j int) bool {
		if !positions[i].EntryTime.Equal(positions[j].EntryTime) {
			return positions[i].EntryTime.Before(positions[j].EntryTime)
		}
		return positions[i].ID < positions[j].ID
	})
}
