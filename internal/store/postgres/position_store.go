package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradejournal/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, account, instrument, position_type,
	entry_time, exit_time, total_quantity, open_quantity,
	average_entry_price, average_exit_price,
	total_points_pnl, total_dollars_pnl, total_commission,
	position_status, execution_count, risk_reward_ratio,
	source_position_ids, group_index, link_group_id, sequential`

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var posType, status string

		if err := rows.Scan(
			&p.ID, &p.Account, &p.Instrument, &posType,
			&p.EntryTime, &p.ExitTime, &p.TotalQuantity, &p.OpenQuantity,
			&p.AverageEntryPrice, &p.AverageExitPrice,
			&p.TotalPointsPnL, &p.TotalDollarsPnL, &p.TotalCommission,
			&status, &p.ExecutionCount, &p.RiskRewardRatio,
			&p.SourcePositionIDs, &p.Origin.GroupIndex, &p.Origin.LinkGroupID, &p.Origin.Sequential,
		); err != nil {
			return nil, err
		}
		p.Type = domain.PositionType(posType)
		p.Status = domain.PositionStatus(status)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ReplacePositions deletes every position of the pair and inserts the given
// set inside one transaction. Link rows go out through COPY.
func (s *PositionStore) ReplacePositions(ctx context.Context, pair domain.Pair, positions []domain.Position, links []domain.PositionExecutionLink) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin replace positions %s: %w", pair, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM positions WHERE account = $1 AND instrument = $2`,
		pair.Account, pair.Instrument,
	); err != nil {
		return fmt.Errorf("postgres: delete positions %s: %w", pair, err)
	}

	if len(positions) > 0 {
		batch := &pgx.Batch{}
		const query = `
			INSERT INTO positions (
				id, account, instrument, position_type,
				entry_time, exit_time, total_quantity, open_quantity,
				average_entry_price, average_exit_price,
				total_points_pnl, total_dollars_pnl, total_commission,
				position_status, execution_count, risk_reward_ratio,
				source_position_ids, group_index, link_group_id, sequential
			) VALUES (
				$1, $2, $3, $4,
				$5, $6, $7, $8,
				$9, $10,
				$11, $12, $13,
				$14, $15, $16,
				$17, $18, $19, $20
			)`

		for _, p := range positions {
			sources := p.SourcePositionIDs
			if sources == nil {
				sources = []string{}
			}
			batch.Queue(query,
				p.ID, p.Account, p.Instrument, string(p.Type),
				p.EntryTime, p.ExitTime, p.TotalQuantity, p.OpenQuantity,
				p.AverageEntryPrice, p.AverageExitPrice,
				p.TotalPointsPnL, p.TotalDollarsPnL, p.TotalCommission,
				string(p.Status), p.ExecutionCount, p.RiskRewardRatio,
				sources, p.Origin.GroupIndex, p.Origin.LinkGroupID, p.Origin.Sequential,
			)
		}

		br := tx.SendBatch(ctx, batch)
		for _, p := range positions {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: insert position %s: %w", p.ID, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: close position batch: %w", err)
		}
	}

	if len(links) > 0 {
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"position_executions"},
			[]string{"position_id", "execution_id", "ordinal"},
			pgx.CopyFromSlice(len(links), func(i int) ([]any, error) {
				return []any{links[i].PositionID, links[i].ExecutionID, links[i].Ordinal}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("postgres: copy position links %s: %w", pair, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit replace positions %s: %w", pair, err)
	}
	return nil
}

// ListPositions returns positions matching the filter with their executions
// attached in position order.
func (s *PositionStore) ListPositions(ctx context.Context, filter domain.PositionFilter) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.Account != "" {
		query += fmt.Sprintf(" AND account = $%d", argIdx)
		args = append(args, filter.Account)
		argIdx++
	}
	if filter.Instrument != "" {
		query += fmt.Sprintf(" AND instrument = $%d", argIdx)
		args = append(args, filter.Instrument)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND position_status = $%d", argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}

	query += " ORDER BY account, instrument, entry_time, id"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	positions, err := scanPositionRows(rows)
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	if len(positions) == 0 {
		return positions, nil
	}

	if err := s.attachExecutions(ctx, positions); err != nil {
		return nil, err
	}
	return positions, nil
}

func (s *PositionStore) attachExecutions(ctx context.Context, positions []domain.Position) error {
	ids := make([]string, len(positions))
	index := make(map[string]int, len(positions))
	for i, p := range positions {
		ids[i] = p.ID
		index[p.ID] = i
	}

	rows, err := s.pool.Query(ctx,
		`SELECT pe.position_id, e.id, e.account, e.instrument, e.side_of_market, e.quantity,
			e.entry_price, e.exit_price, e.entry_time, e.exit_time,
			e.commission, e.dollars_gain_loss, e.points_gain_loss,
			e.link_group_id, e.execution_id, e.deleted
		 FROM position_executions pe
		 JOIN executions e ON e.id = pe.execution_id
		 WHERE pe.position_id = ANY($1)
		 ORDER BY pe.position_id, pe.ordinal`, ids)
	if err != nil {
		return fmt.Errorf("postgres: list position executions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var positionID string
		var e domain.ExecutionRecord
		if err := rows.Scan(
			&positionID, &e.ID, &e.Account, &e.Instrument, &e.Side, &e.Quantity,
			&e.EntryPrice, &e.ExitPrice, &e.EntryTime, &e.ExitTime,
			&e.Commission, &e.DollarsGainLoss, &e.PointsGainLoss,
			&e.LinkGroupID, &e.ExecutionID, &e.Deleted,
		); err != nil {
			return fmt.Errorf("postgres: scan position execution: %w", err)
		}
		i := index[positionID]
		positions[i].Executions = append(positions[i].Executions, e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: position executions rows: %w", err)
	}
	return nil
}

// ListPairs returns the distinct pairs that currently hold positions.
func (s *PositionStore) ListPairs(ctx context.Context, filter domain.ExecutionFilter) ([]domain.Pair, error) {
	query := `SELECT DISTINCT account, instrument FROM positions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.Account != "" {
		query += fmt.Sprintf(" AND account = $%d", argIdx)
		args = append(args, filter.Account)
		argIdx++
	}
	if filter.Instrument != "" {
		query += fmt.Sprintf(" AND instrument = $%d", argIdx)
		args = append(args, filter.Instrument)
	}
	query += " ORDER BY account, instrument"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position pairs: %w", err)
	}
	defer rows.Close()

	pairs, err := scanPairRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan position pairs: %w", err)
	}
	return pairs, nil
}
