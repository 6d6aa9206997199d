package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradejournal/internal/domain"
	"github.com/alanyoungcy/tradejournal/internal/notify"
	"github.com/alanyoungcy/tradejournal/internal/position"
)

// ReportArchiver uploads the per-group summaries of one rebuild run.
type ReportArchiver interface {
	Archive(ctx context.Context, at time.Time, runID string, lines []any) (string, error)
}

// Alerter forwards operator notifications.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// RebuildConfig tunes a RebuildService.
type RebuildConfig struct {
	Concurrency    int
	LockTTL        time.Duration
	ArchiveReports bool
}

// RebuildDeps are the collaborators of a RebuildService. Locks, Bus,
// Archiver and Alerts are optional.
type RebuildDeps struct {
	Executions domain.ExecutionStore
	Positions  domain.PositionStore
	Audit      domain.AuditStore
	Locks      domain.LockManager
	Bus        domain.SignalBus
	Archiver   ReportArchiver
	Alerts     Alerter
	Engine     *position.Engine
}

// RebuildFilter scopes a rebuild. Empty fields match every account or
// instrument.
type RebuildFilter struct {
	Account    string `json:"account"`
	Instrument string `json:"instrument"`
}

// GroupSummary reports the outcome of one (account, instrument) pair.
type GroupSummary struct {
	Pair          domain.Pair              `json:"pair"`
	Trades        int                      `json:"trades"`
	Positions     int                      `json:"positions"`
	Groups        int                      `json:"groups"`
	BlockedGroups int                      `json:"blocked_groups"`
	Passes        int                      `json:"repair_passes"`
	Actions       []position.Action        `json:"actions,omitempty"`
	Errors        []domain.ValidationIssue `json:"errors,omitempty"`
	Warnings      []domain.ValidationIssue `json:"warnings,omitempty"`
	Error         string                   `json:"error,omitempty"`

	err error
}

// Failed reports whether the pair was not persisted.
func (g GroupSummary) Failed() bool { return g.err != nil }

// Err returns the failure of the pair, if any.
func (g GroupSummary) Err() error { return g.err }

// ValidationSummary aggregates findings across a run.
type ValidationSummary struct {
	Counts map[domain.IssueKind]int `json:"counts"`
	Groups []GroupSummary           `json:"groups"`
}

// RebuildResult is returned by every rebuild entry point.
type RebuildResult struct {
	RunID             string            `json:"run_id"`
	PositionsCreated  int               `json:"positions_created"`
	TradesProcessed   int               `json:"trades_processed"`
	ValidationSummary ValidationSummary `json:"validation_summary"`
	ReportPath        string            `json:"report_path,omitempty"`
	Duration          time.Duration     `json:"duration_ns"`
}

// Failed returns the pairs that could not be persisted.
func (r RebuildResult) Failed() []GroupSummary {
	var out []GroupSummary
	for _, g := range r.ValidationSummary.Groups {
		if g.Failed() {
			out = append(out, g)
		}
	}
	return out
}

// Err joins the failures of every pair, or returns nil.
func (r RebuildResult) Err() error {
	var errs []error
	for _, g := range r.Failed() {
		errs = append(errs, g.err)
	}
	return errors.Join(errs...)
}

// LinkResult is returned by LinkExecutions.
type LinkResult struct {
	GroupID int64         `json:"group_id"`
	Rebuild RebuildResult `json:"rebuild"`
}

// RebuildService rebuilds derived positions from stored executions and
// persists them pair by pair.
type RebuildService struct {
	deps   RebuildDeps
	cfg    RebuildConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewRebuildService creates a RebuildService.
func NewRebuildService(deps RebuildDeps, cfg RebuildConfig, logger *slog.Logger) *RebuildService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if deps.Engine == nil {
		deps.Engine = position.NewEngine(position.DefaultProximityWindow, position.DefaultMaxRepairPasses)
	}
	return &RebuildService{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "rebuild_service")),
		now:    time.Now,
	}
}

// RebuildPositionsFromTrades rebuilds every pair matching filter. Pairs that
// hold positions but no longer have executions are cleared. A pair that
// fails is reported in its GroupSummary and never aborts the others; the
// returned error is reserved for failures that prevent the run entirely.
func (s *RebuildService) RebuildPositionsFromTrades(ctx context.Context, filter RebuildFilter) (RebuildResult, error) {
	f := domain.ExecutionFilter{Account: filter.Account, Instrument: filter.Instrument}

	byPair, err := s.collect(ctx, []domain.ExecutionFilter{f})
	if err != nil {
		return RebuildResult{}, err
	}

	held, err := s.deps.Positions.ListPairs(ctx, f)
	if err != nil {
		return RebuildResult{}, fmt.Errorf("rebuild_service: list position pairs: %w", err)
	}
	for _, p := range held {
		if _, ok := byPair[p]; !ok {
			byPair[p] = nil
		}
	}

	return s.run(ctx, "rebuild", byPair)
}

// RebuildPairs rebuilds exactly the given pairs.
func (s *RebuildService) RebuildPairs(ctx context.Context, pairs []domain.Pair) (RebuildResult, error) {
	filters := make([]domain.ExecutionFilter, len(pairs))
	for i, p := range pairs {
		filters[i] = domain.ExecutionFilter{Account: p.Account, Instrument: p.Instrument}
	}
	byPair, err := s.collect(ctx, filters)
	if err != nil {
		return RebuildResult{}, err
	}
	for _, p := range pairs {
		if _, ok := byPair[p]; !ok {
			byPair[p] = nil
		}
	}
	return s.run(ctx, "pairs", byPair)
}

// LinkExecutions puts the given executions into one link group, allocating
// a new group id when groupID is nil, and rebuilds the affected pairs.
func (s *RebuildService) LinkExecutions(ctx context.Context, executionIDs []int64, groupID *int64) (LinkResult, error) {
	if len(executionIDs) == 0 {
		return LinkResult{}, fmt.Errorf("rebuild_service: link: %w", domain.ErrNoExecutions)
	}

	pairs, err := s.deps.Executions.PairsOf(ctx, executionIDs)
	if err != nil {
		return LinkResult{}, fmt.Errorf("rebuild_service: link: pairs of executions: %w", err)
	}
	if len(pairs) == 0 {
		return LinkResult{}, fmt.Errorf("rebuild_service: link: %w", domain.ErrNotFound)
	}

	var id int64
	if groupID != nil {
		id = *groupID
	} else {
		id, err = s.deps.Executions.NextLinkGroupID(ctx)
		if err != nil {
			return LinkResult{}, fmt.Errorf("rebuild_service: link: allocate group: %w", err)
		}
	}

	if err := s.deps.Executions.UpdateLinkGroup(ctx, executionIDs, &id); err != nil {
		return LinkResult{}, fmt.Errorf("rebuild_service: link: update: %w", err)
	}
	s.auditLog(ctx, domain.AuditExecutionsLinked, map[string]any{
		"execution_ids": executionIDs,
		"link_group_id": id,
		"pairs":         pairStrings(pairs),
	})

	res, err := s.RebuildPairs(ctx, pairs)
	if err != nil {
		return LinkResult{GroupID: id}, err
	}
	return LinkResult{GroupID: id, Rebuild: res}, nil
}

// UnlinkExecutions clears the link group of the given executions and
// rebuilds the affected pairs.
func (s *RebuildService) UnlinkExecutions(ctx context.Context, executionIDs []int64) (RebuildResult, error) {
	if len(executionIDs) == 0 {
		return RebuildResult{}, fmt.Errorf("rebuild_service: unlink: %w", domain.ErrNoExecutions)
	}

	pairs, err := s.deps.Executions.PairsOf(ctx, executionIDs)
	if err != nil {
		return RebuildResult{}, fmt.Errorf("rebuild_service: unlink: pairs of executions: %w", err)
	}
	if len(pairs) == 0 {
		return RebuildResult{}, fmt.Errorf("rebuild_service: unlink: %w", domain.ErrNotFound)
	}

	if err := s.deps.Executions.UpdateLinkGroup(ctx, executionIDs, nil); err != nil {
		return RebuildResult{}, fmt.Errorf("rebuild_service: unlink: update: %w", err)
	}
	s.auditLog(ctx, domain.AuditExecutionsUnlinked, map[string]any{
		"execution_ids": executionIDs,
		"pairs":         pairStrings(pairs),
	})

	return s.RebuildPairs(ctx, pairs)
}

// ListPositions returns persisted positions.
func (s *RebuildService) ListPositions(ctx context.Context, filter domain.PositionFilter) ([]domain.Position, error) {
	positions, err := s.deps.Positions.ListPositions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("rebuild_service: list positions: %w", err)
	}
	return positions, nil
}

// collect lists executions for every filter and groups them by pair.
func (s *RebuildService) collect(ctx context.Context, filters []domain.ExecutionFilter) (map[domain.Pair][]domain.ExecutionRecord, error) {
	byPair := make(map[domain.Pair][]domain.ExecutionRecord)
	seen := make(map[int64]bool)
	for _, f := range filters {
		execs, err := s.deps.Executions.ListExecutions(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("rebuild_service: list executions: %w", err)
		}
		for _, e := range execs {
			if e.Deleted || seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			byPair[e.Pair()] = append(byPair[e.Pair()], e)
		}
	}
	return byPair, nil
}

// run rebuilds each pair of byPair concurrently and finishes the run with
// its audit entry, event, report and alerts.
func (s *RebuildService) run(ctx context.Context, trigger string, byPair map[domain.Pair][]domain.ExecutionRecord) (RebuildResult, error) {
	start := s.now()
	runID := uuid.NewString()

	pairs := make([]domain.Pair, 0, len(byPair))
	for p := range byPair {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].String() < pairs[j].String() })

	summaries := make([]GroupSummary, len(pairs))
	done := make([]bool, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, pair := range pairs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			summaries[i] = s.rebuildPair(gctx, pair, byPair[pair])
			done[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Pairs that finished are already persisted; report them.
		var finished []GroupSummary
		for i, ok := range done {
			if ok {
				finished = append(finished, summaries[i])
			}
		}
		res, _, _ := summarize(runID, finished)
		res.Duration = s.now().Sub(start)
		s.logger.WarnContext(ctx, "rebuild interrupted",
			slog.String("run_id", runID),
			slog.Int("pairs", len(pairs)),
			slog.Int("completed", len(finished)),
			slog.String("error", err.Error()),
		)
		return res, fmt.Errorf("rebuild_service: run %s: %w", runID, err)
	}

	res, failed, blocked := summarize(runID, summaries)
	res.Duration = s.now().Sub(start)

	s.logger.InfoContext(ctx, "rebuild completed",
		slog.String("run_id", runID),
		slog.String("trigger", trigger),
		slog.Int("pairs", len(pairs)),
		slog.Int("positions", res.PositionsCreated),
		slog.Int("trades", res.TradesProcessed),
		slog.Int("failed", failed),
		slog.Int("blocked", blocked),
		slog.Duration("duration", res.Duration),
	)

	s.auditLog(ctx, domain.AuditRebuildCompleted, map[string]any{
		"run_id":            runID,
		"trigger":           trigger,
		"pairs":             len(pairs),
		"positions_created": res.PositionsCreated,
		"trades_processed":  res.TradesProcessed,
		"failed_pairs":      failed,
		"blocked_pairs":     blocked,
	})
	s.publish(ctx, runID, pairs)
	res.ReportPath = s.archive(ctx, start, runID, summaries)
	s.alert(ctx, runID, summaries, failed, blocked)

	return res, nil
}

// summarize aggregates per-pair summaries into a run result and counts the
// failed and blocked pairs.
func summarize(runID string, summaries []GroupSummary) (RebuildResult, int, int) {
	res := RebuildResult{
		RunID:             runID,
		ValidationSummary: ValidationSummary{Counts: make(map[domain.IssueKind]int), Groups: summaries},
	}
	var failed, blocked int
	for _, sum := range summaries {
		res.TradesProcessed += sum.Trades
		if sum.Failed() {
			failed++
			continue
		}
		res.PositionsCreated += sum.Positions
		if sum.BlockedGroups > 0 {
			blocked++
		}
		for _, issue := range sum.Errors {
			res.ValidationSummary.Counts[issue.Kind]++
		}
		for _, issue := range sum.Warnings {
			res.ValidationSummary.Counts[issue.Kind]++
		}
	}
	return res, failed, blocked
}

// rebuildPair runs the engine over one pair and replaces its positions.
func (s *RebuildService) rebuildPair(ctx context.Context, pair domain.Pair, execs []domain.ExecutionRecord) GroupSummary {
	sum := GroupSummary{Pair: pair, Trades: len(execs)}
	logger := s.logger.With(slog.String("pair", pair.String()))

	if s.deps.Locks != nil {
		unlock, err := s.deps.Locks.Acquire(ctx, "rebuild:"+pair.Key(), s.cfg.LockTTL)
		if err != nil {
			return s.fail(ctx, logger, sum, &domain.PersistenceError{Pair: pair, Op: "acquire_lock", Err: err})
		}
		defer unlock()
	}

	res := s.deps.Engine.Run(pair, execs)
	sum.Groups = res.GroupCount
	sum.BlockedGroups = res.BlockedGroups
	sum.Passes = res.Passes
	sum.Actions = res.Actions
	sum.Errors = append(append(sum.Errors, res.PreBuild.Errors...), res.Report.Errors...)
	sum.Warnings = append(append(sum.Warnings, res.PreBuild.Warnings...), res.Report.Warnings...)

	for _, d := range res.Trace {
		logger.DebugContext(ctx, "group split",
			slog.String("reason", string(d.Reason)),
			slog.Int64("execution_id", d.ExecutionID),
		)
	}
	for _, issue := range sum.Errors {
		logger.WarnContext(ctx, "validation error",
			slog.String("kind", string(issue.Kind)),
			slog.String("error", issue.Err(pair).Error()),
		)
	}

	var links []domain.PositionExecutionLink
	for _, p := range res.Positions {
		links = append(links, p.Links()...)
	}
	if err := s.deps.Positions.ReplacePositions(ctx, pair, res.Positions, links); err != nil {
		return s.fail(ctx, logger, sum, &domain.PersistenceError{Pair: pair, Op: "replace_positions", Err: err})
	}
	sum.Positions = len(res.Positions)

	logger.InfoContext(ctx, "pair rebuilt",
		slog.Int("trades", sum.Trades),
		slog.Int("positions", sum.Positions),
		slog.Int("groups", sum.Groups),
		slog.Int("blocked_groups", sum.BlockedGroups),
		slog.Int("repair_passes", sum.Passes),
		slog.Int("actions", len(sum.Actions)),
	)
	return sum
}

func (s *RebuildService) fail(ctx context.Context, logger *slog.Logger, sum GroupSummary, err error) GroupSummary {
	logger.ErrorContext(ctx, "pair rebuild failed", slog.String("error", err.Error()))
	sum.err = err
	sum.Error = err.Error()
	return sum
}

func (s *RebuildService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.deps.Audit == nil {
		return
	}
	if err := s.deps.Audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *RebuildService) publish(ctx context.Context, runID string, pairs []domain.Pair) {
	if s.deps.Bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"run_id": runID,
		"pairs":  pairs,
	})
	if err := s.deps.Bus.Publish(ctx, domain.ChannelPositionsRebuilt, payload); err != nil {
		s.logger.WarnContext(ctx, "publish rebuild event failed",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *RebuildService) archive(ctx context.Context, at time.Time, runID string, summaries []GroupSummary) string {
	if !s.cfg.ArchiveReports || s.deps.Archiver == nil || len(summaries) == 0 {
		return ""
	}
	lines := make([]any, len(summaries))
	for i, sum := range summaries {
		lines[i] = sum
	}
	path, err := s.deps.Archiver.Archive(ctx, at, runID, lines)
	if err != nil {
		s.logger.WarnContext(ctx, "archive rebuild report failed",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return path
}

func (s *RebuildService) alert(ctx context.Context, runID string, summaries []GroupSummary, failed, blocked int) {
	if s.deps.Alerts == nil {
		return
	}

	var event, title string
	var lines []string
	switch {
	case failed > 0:
		event = notify.EventRebuildFailed
		title = fmt.Sprintf("Rebuild %s: %d pair(s) failed", shortID(runID), failed)
		for _, sum := range summaries {
			if sum.Failed() {
				lines = append(lines, sum.Error)
			}
		}
	case blocked > 0:
		event = notify.EventGroupBlocked
		title = fmt.Sprintf("Rebuild %s: %d pair(s) had blocked groups", shortID(runID), blocked)
		for _, sum := range summaries {
			if sum.BlockedGroups > 0 {
				lines = append(lines, fmt.Sprintf("%s: %d blocked group(s)", sum.Pair, sum.BlockedGroups))
			}
		}
	default:
		event = notify.EventRebuildCompleted
		title = fmt.Sprintf("Rebuild %s completed", shortID(runID))
		lines = append(lines, fmt.Sprintf("%d pair(s) rebuilt", len(summaries)))
	}

	if err := s.deps.Alerts.Notify(ctx, event, title, strings.Join(lines, "\n")); err != nil {
		s.logger.WarnContext(ctx, "rebuild alert failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func pairStrings(pairs []domain.Pair) []string {
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.String()
	}
	return out
}
