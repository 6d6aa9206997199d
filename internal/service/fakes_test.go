package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/alanyoungcy/tradejournal/internal/domain"
)

var t0 = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

func exec(id int64, pair domain.Pair, side string, qty int64, at time.Duration) domain.ExecutionRecord {
	return domain.ExecutionRecord{
		ID:         id,
		Account:    pair.Account,
		Instrument: pair.Instrument,
		Side:       side,
		Quantity:   qty,
		EntryPrice: 17500,
		EntryTime:  t0.Add(at),
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memExecutions struct {
	mu        sync.Mutex
	execs     []domain.ExecutionRecord
	nextGroup int64
}

func (m *memExecutions) ListExecutions(_ context.Context, f domain.ExecutionFilter) ([]domain.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ExecutionRecord
	for _, e := range m.execs {
		if f.Matches(e.Pair()) && !e.Deleted {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memExecutions) UpdateLinkGroup(_ context.Context, ids []int64, groupID *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	n := 0
	for i := range m.execs {
		if want[m.execs[i].ID] {
			if groupID == nil {
				m.execs[i].LinkGroupID = nil
			} else {
				g := *groupID
				m.execs[i].LinkGroupID = &g
			}
			n++
		}
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (m *memExecutions) PairsOf(_ context.Context, ids []int64) ([]domain.Pair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	seen := make(map[domain.Pair]bool)
	var out []domain.Pair
	for _, e := range m.execs {
		if want[e.ID] && !seen[e.Pair()] {
			seen[e.Pair()] = true
			out = append(out, e.Pair())
		}
	}
	return out, nil
}

func (m *memExecutions) NextLinkGroupID(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextGroup++
	return m.nextGroup, nil
}

func (m *memExecutions) byID(id int64) domain.ExecutionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.execs {
		if e.ID == id {
			return e
		}
	}
	return domain.ExecutionRecord{}
}

type memPositions struct {
	mu       sync.Mutex
	byPair   map[domain.Pair][]domain.Position
	links    map[domain.Pair][]domain.PositionExecutionLink
	failOn   map[domain.Pair]error
	replaced []domain.Pair
	// afterReplace runs after every successful replace.
	afterReplace func(domain.Pair)
}

func newMemPositions() *memPositions {
	return &memPositions{
		byPair: make(map[domain.Pair][]domain.Position),
		links:  make(map[domain.Pair][]domain.PositionExecutionLink),
		failOn: make(map[domain.Pair]error),
	}
}

func (m *memPositions) ReplacePositions(_ context.Context, pair domain.Pair, positions []domain.Position, links []domain.PositionExecutionLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn[pair]; err != nil {
		return err
	}
	m.replaced = append(m.replaced, pair)
	if m.afterReplace != nil {
		defer m.afterReplace(pair)
	}
	if len(positions) == 0 {
		delete(m.byPair, pair)
		delete(m.links, pair)
		return nil
	}
	m.byPair[pair] = positions
	m.links[pair] = links
	return nil
}

func (m *memPositions) ListPositions(_ context.Context, f domain.PositionFilter) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for pair, ps := range m.byPair {
		if !(domain.ExecutionFilter{Account: f.Account, Instrument: f.Instrument}).Matches(pair) {
			continue
		}
		for _, p := range ps {
			if f.Status == "" || p.Status == f.Status {
				out = append(out, p)
			}
		}
	}
	domain.SortPositions(out)
	return out, nil
}

func (m *memPositions) ListPairs(_ context.Context, f domain.ExecutionFilter) ([]domain.Pair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Pair
	for pair := range m.byPair {
		if f.Matches(pair) {
			out = append(out, pair)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (m *memPositions) get(pair domain.Pair) []domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byPair[pair]
}

type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (m *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, domain.AuditEntry{ID: int64(len(m.entries) + 1), Event: event, Detail: detail})
	return nil
}

func (m *memAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range m.entries {
		if opts.Event == "" || e.Event == opts.Event {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memAudit) events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Event
	}
	return out
}

type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func (m *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.published == nil {
		m.published = make(map[string][][]byte)
	}
	m.published[channel] = append(m.published[channel], payload)
	return nil
}

func (m *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

type memLocks struct {
	mu   sync.Mutex
	deny map[string]bool
	took []string
}

func (m *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deny[key] {
		return nil, domain.ErrLockHeld
	}
	m.took = append(m.took, key)
	return func() {}, nil
}

type mockAlerter struct{ mock.Mock }

func (m *mockAlerter) Notify(ctx context.Context, event, title, message string) error {
	args := m.Called(ctx, event, title, message)
	return args.Error(0)
}

type mockArchiver struct{ mock.Mock }

func (m *mockArchiver) Archive(ctx context.Context, at time.Time, runID string, lines []any) (string, error) {
	args := m.Called(ctx, at, runID, lines)
	return args.String(0), args.Error(1)
}
