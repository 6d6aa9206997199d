package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradejournal/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore backed by the given connection pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionSelectCols = `id, account, instrument, side_of_market, quantity,
	entry_price, exit_price, entry_time, exit_time,
	commission, dollars_gain_loss, points_gain_loss,
	link_group_id, execution_id, deleted`

func scanExecutionRows(rows pgx.Rows) ([]domain.ExecutionRecord, error) {
	var execs []domain.ExecutionRecord
	for rows.Next() {
		var e domain.ExecutionRecord
		if err := rows.Scan(
			&e.ID, &e.Account, &e.Instrument, &e.Side, &e.Quantity,
			&e.EntryPrice, &e.ExitPrice, &e.EntryTime, &e.ExitTime,
			&e.Commission, &e.DollarsGainLoss, &e.PointsGainLoss,
			&e.LinkGroupID, &e.ExecutionID, &e.Deleted,
		); err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

// ListExecutions returns non-deleted executions matching the filter, ordered
// by account, instrument, entry_time and id.
func (s *ExecutionStore) ListExecutions(ctx context.Context, filter domain.ExecutionFilter) ([]domain.ExecutionRecord, error) {
	query := `SELECT ` + executionSelectCols + ` FROM executions WHERE NOT deleted`
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
	query += " ORDER BY account, instrument, entry_time, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	execs, err := scanExecutionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan executions: %w", err)
	}
	return execs, nil
}

// UpdateLinkGroup sets link_group_id on the given executions. A nil groupID
// clears it. Returns domain.ErrNotFound when none of the ids exist.
func (s *ExecutionStore) UpdateLinkGroup(ctx context.Context, executionIDs []int64, groupID *int64) error {
	if len(executionIDs) == 0 {
		return nil
	}

	const query = `
		UPDATE executions SET
			link_group_id = $2,
			updated_at    = NOW()
		WHERE id = ANY($1) AND NOT deleted`

	tag, err := s.pool.Exec(ctx, query, executionIDs, groupID)
	if err != nil {
		return fmt.Errorf("postgres: update link group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// PairsOf returns the distinct (account, instrument) pairs of the given
// executions.
func (s *ExecutionStore) PairsOf(ctx context.Context, executionIDs []int64) ([]domain.Pair, error) {
	if len(executionIDs) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT account, instrument FROM executions
		 WHERE id = ANY($1)
		 ORDER BY account, instrument`, executionIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: pairs of executions: %w", err)
	}
	defer rows.Close()

	pairs, err := scanPairRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan execution pairs: %w", err)
	}
	return pairs, nil
}

// NextLinkGroupID draws a fresh id from link_group_seq.
func (s *ExecutionStore) NextLinkGroupID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, `SELECT nextval('link_group_seq')`).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: next link group id: %w", err)
	}
	return id, nil
}

func scanPairRows(rows pgx.Rows) ([]domain.Pair, error) {
	var pairs []domain.Pair
	for rows.Next() {
		var p domain.Pair
		if err := rows.Scan(&p.Account, &p.Instrument); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}
