// Package aggregator turns the raw event log into published aggregates.
// A pass reads one snapshot of the log, computes the requested aggregate
// families and publishes them atomically.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pulse/internal/analytics"
	"pulse/internal/errs"
	"pulse/internal/events"
	"pulse/internal/identity"
	"pulse/internal/pkg/telemetry"
	"pulse/internal/timeframe"
)

// Family names one kind of aggregate a pass can compute.
type Family string

const (
	FamilyActiveUsers Family = "active_users"
	FamilySessions    Family = "sessions"
	FamilyRetention   Family = "retention"
	FamilyFunnels     Family = "funnels"
	FamilyRankings    Family = "rankings"
)

// AllFamilies lists every family in publication order.
var AllFamilies = []Family{FamilyActiveUsers, FamilySessions, FamilyRetention, FamilyFunnels, FamilyRankings}

// ParseFamily validates a family name.
func ParseFamily(s string) (Family, error) {
	for _, f := range AllFamilies {
		if string(f) == s {
			return f, nil
		}
	}
	return "", errs.NewValidationError("families", fmt.Sprintf("unknown family %q", s))
}

const (
	DefaultWorkers        = 4
	DefaultSessionTimeout = 30 * time.Minute
)

// EventSource is the read side of the event log.
type EventSource interface {
	LoadEvents(ctx context.Context, from, to time.Time) ([]events.RawEvent, error)
	LoadIdentityLinks(ctx context.Context, until time.Time) ([]identity.Link, error)
	// LoadSessionEvents returns every event before until that belongs to one
	// of the given sessions.
	LoadSessionEvents(ctx context.Context, sessionIDs []string, until time.Time) ([]events.RawEvent, error)
}

// Publisher applies a publication atomically.
type Publisher interface {
	Publish(ctx context.Context, pub *analytics.Publication) error
}

// Options tune an Aggregator.
type Options struct {
	// Workers bounds the goroutines computing one pass.
	Workers int
	// SessionTimeout is how long after its last event a session may still grow.
	SessionTimeout time.Duration
	Funnels        []FunnelDefinition
	Metrics        *telemetry.Metrics
	TimeProvider   timeframe.TimeProvider
}

// PassRequest describes one aggregation pass.
type PassRequest struct {
	Window           timeframe.Window
	Grains           []timeframe.Grain
	Families         []Family
	MaxRetentionDays int
	// AsOf decides which periods are complete; zero means now.
	AsOf time.Time
	// Recompute allows final rows to be overwritten.
	Recompute bool
}

// PassResult summarizes a published pass.
type PassResult struct {
	PassID      string         `json:"pass_id"`
	WindowStart time.Time      `json:"window_start"`
	WindowEnd   time.Time      `json:"window_end"`
	AsOf        time.Time      `json:"as_of"`
	Families    []Family       `json:"families"`
	Recompute   bool           `json:"recompute"`
	EventsRead  int            `json:"events_read"`
	Rows        map[Family]int `json:"rows"`
	RowsWritten int64          `json:"rows_written"`
	Duration    time.Duration  `json:"-"`
	DurationMs  int64          `json:"duration_ms"`
}

// Aggregator runs aggregation passes.
type Aggregator struct {
	source    EventSource
	publisher Publisher
	logger    *slog.Logger
	opts      Options

	mu    sync.RWMutex
	hooks []func(*PassResult)
}

// New creates an aggregator.
func New(source EventSource, publisher Publisher, logger *slog.Logger, opts Options) *Aggregator {
	if opts.Workers < 1 {
		opts.Workers = DefaultWorkers
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = DefaultSessionTimeout
	}
	if opts.Funnels == nil {
		opts.Funnels = DefaultFunnels
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &timeframe.DefaultTimeProvider{}
	}
	return &Aggregator{source: source, publisher: publisher, logger: logger, opts: opts}
}

// Funnels returns the funnel definitions passes compute.
func (a *Aggregator) Funnels() []FunnelDefinition {
	return a.opts.Funnels
}

// SessionTimeout returns the configured session grace period.
func (a *Aggregator) SessionTimeout() time.Duration {
	return a.opts.SessionTimeout
}

// OnPublish registers fn to run after every published pass.
func (a *Aggregator) OnPublish(fn func(*PassResult)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks = append(a.hooks, fn)
}

func (a *Aggregator) runHooks(result *PassResult) {
	a.mu.RLock()
	hooks := append([]func(*PassResult){}, a.hooks...)
	a.mu.RUnlock()
	for _, fn := range hooks {
		fn(result)
	}
}

// normalize fills defaults and validates the request.
func (a *Aggregator) normalize(req PassRequest) (PassRequest, error) {
	if err := req.Window.Validate(); err != nil {
		return req, err
	}
	req.Window = timeframe.Window{Start: req.Window.Start.UTC(), End: req.Window.End.UTC()}

	if len(req.Grains) == 0 {
		req.Grains = timeframe.AllGrains
	}
	for _, g := range req.Grains {
		if _, err := timeframe.ParseGrain(string(g)); err != nil {
			return req, err
		}
	}

	if len(req.Families) == 0 {
		req.Families = AllFamilies
	}
	for _, f := range req.Families {
		if _, err := ParseFamily(string(f)); err != nil {
			return req, err
		}
	}

	if req.MaxRetentionDays < 0 {
		return req, errs.NewValidationError("max_retention_days", "must not be negative")
	}

	if req.AsOf.IsZero() {
		req.AsOf = a.opts.TimeProvider.Now(time.UTC)
	}
	req.AsOf = req.AsOf.UTC()
	return req, nil
}

func (req PassRequest) has(f Family) bool {
	for _, x := range req.Families {
		if x == f {
			return true
		}
	}
	return false
}

// loadRange returns the part of the log the requested families depend on.
func (a *Aggregator) loadRange(req PassRequest) (time.Time, time.Time) {
	days := req.Window.Expand(timeframe.GrainDay)
	from, to := days.Start, days.End

	if req.has(FamilyActiveUsers) {
		for _, g := range req.Grains {
			w := req.Window.Expand(g)
			if w.Start.Before(from) {
				from = w.Start
			}
			if w.End.After(to) {
				to = w.End
			}
		}
	}

	if req.has(FamilyRetention) {
		from = time.Time{}
		end := days.End.AddDate(0, 0, req.MaxRetentionDays)
		if elapsed := timeframe.StartOfDay(req.AsOf); elapsed.Before(end) {
			end = elapsed
		}
		if end.After(to) {
			to = end
		}
	}

	// Nothing after AsOf is visible to the pass.
	if req.AsOf.Before(to) {
		to = req.AsOf
	}
	return from, to
}

// withWholeSessions adds the events outside the loaded range that belong to
// sessions with an event inside days, so every such session is built from
// all of its events up to until.
func (a *Aggregator) withWholeSessions(ctx context.Context, evts []events.RawEvent, days timeframe.Window, until time.Time) ([]events.RawEvent, error) {
	loaded := make(map[uint]struct{}, len(evts))
	seen := make(map[string]struct{})
	var ids []string
	for i := range evts {
		e := &evts[i]
		loaded[e.Seq] = struct{}{}
		if e.SessionID == nil || *e.SessionID == "" || !days.Contains(e.EventTimestamp) {
			continue
		}
		if _, ok := seen[*e.SessionID]; !ok {
			seen[*e.SessionID] = struct{}{}
			ids = append(ids, *e.SessionID)
		}
	}
	if len(ids) == 0 {
		return evts, nil
	}

	extra, err := a.source.LoadSessionEvents(ctx, ids, until)
	if err != nil {
		return evts, err
	}
	for _, e := range extra {
		if _, ok := loaded[e.Seq]; !ok {
			evts = append(evts, e)
		}
	}
	return evts, nil
}

// retentionCohorts returns the cohort dates a pass computes retention for.
func retentionCohorts(req PassRequest) timeframe.Window {
	days := req.Window.Expand(timeframe.GrainDay)
	return timeframe.Window{Start: days.Start.AddDate(0, 0, -req.MaxRetentionDays), End: days.End}
}

// computed holds the per-family results of one pass.
type computed struct {
	activeUsers []ActiveUserCount
	sessions    []Session
	retention   []RetentionEntry
	funnels     map[string][]dayFunnel
	rankings    []dayRanking
}

type dayFunnel struct {
	Day   time.Time
	Steps []FunnelStep
}

type dayRanking struct {
	Day       time.Time
	Dimension string
	Items     []RankItem
}

var rankingDimensions = []struct {
	name string
	dim  Dimension
}{
	{analytics.DimensionEvent, EventNameDimension},
	{analytics.DimensionPage, PagePathDimension},
	{analytics.DimensionCountry, CountryDimension},
}

// Run executes one aggregation pass. Nothing is published when validation,
// loading, computation or verification fails, or when ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context, req PassRequest) (*PassResult, error) {
	started := time.Now()

	req, err := a.normalize(req)
	if err != nil {
		a.opts.Metrics.RecordPass(telemetry.PassRejected, time.Since(started), 0, nil)
		return nil, err
	}

	logger := a.logger.With(
		slog.String("window_start", req.Window.Start.Format(time.RFC3339)),
		slog.String("window_end", req.Window.End.Format(time.RFC3339)),
	)
	logger.Info("Starting aggregation pass",
		slog.Any("families", req.Families),
		slog.Bool("recompute", req.Recompute))

	from, to := a.loadRange(req)
	evts, err := a.source.LoadEvents(ctx, from, to)
	if err != nil {
		return nil, a.fail(ctx, logger, started, 0, fmt.Errorf("failed to load events: %w", err))
	}
	if req.has(FamilySessions) || req.has(FamilyFunnels) {
		evts, err = a.withWholeSessions(ctx, evts, req.Window.Expand(timeframe.GrainDay), to)
		if err != nil {
			return nil, a.fail(ctx, logger, started, len(evts), fmt.Errorf("failed to load session events: %w", err))
		}
	}
	links, err := a.source.LoadIdentityLinks(ctx, to)
	if err != nil {
		return nil, a.fail(ctx, logger, started, len(evts), fmt.Errorf("failed to load identity links: %w", err))
	}
	snap := NewSnapshot(evts, links)
	logger.Debug("Snapshot loaded",
		slog.Int("events", snap.Len()),
		slog.Int("identity_links", len(links)))

	out, err := a.compute(ctx, snap, req)
	if err != nil {
		return nil, a.fail(ctx, logger, started, snap.Len(), err)
	}

	if err := verify(out); err != nil {
		return nil, a.fail(ctx, logger, started, snap.Len(), err)
	}

	if err := ctx.Err(); err != nil {
		return nil, a.fail(ctx, logger, started, snap.Len(), err)
	}

	pub := a.publication(req, out)
	pub.Pass.EventsRead = int64(snap.Len())
	pub.Pass.DurationMs = time.Since(started).Milliseconds()
	if err := a.publisher.Publish(ctx, pub); err != nil {
		return nil, a.fail(ctx, logger, started, snap.Len(), err)
	}

	result := &PassResult{
		PassID:      pub.Pass.PassID,
		WindowStart: req.Window.Start,
		WindowEnd:   req.Window.End,
		AsOf:        req.AsOf,
		Families:    req.Families,
		Recompute:   req.Recompute,
		EventsRead:  snap.Len(),
		Rows: map[Family]int{
			FamilyActiveUsers: len(pub.ActiveUsers),
			FamilySessions:    len(pub.Sessions),
			FamilyRetention:   len(pub.Retention),
			FamilyFunnels:     len(pub.FunnelSteps),
			FamilyRankings:    len(pub.Rankings),
		},
		RowsWritten: pub.RowCount(),
		Duration:    time.Since(started),
	}
	result.DurationMs = result.Duration.Milliseconds()

	rows := make(map[string]int, len(result.Rows))
	for f, n := range result.Rows {
		rows[string(f)] = n
	}
	a.opts.Metrics.RecordPass(telemetry.PassPublished, result.Duration, result.EventsRead, rows)

	logger.Info("Aggregation pass published",
		slog.String("pass_id", result.PassID),
		slog.Int("events_read", result.EventsRead),
		slog.Int64("rows_written", result.RowsWritten),
		slog.Duration("duration", result.Duration))

	a.runHooks(result)
	return result, nil
}

func (a *Aggregator) fail(ctx context.Context, logger *slog.Logger, started time.Time, eventsRead int, err error) error {
	status := telemetry.PassFailed
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		status = telemetry.PassCancelled
		logger.Warn("Aggregation pass cancelled", slog.Any("error", err))
	} else {
		logger.Error("Aggregation pass failed", slog.Any("error", err))
	}
	a.opts.Metrics.RecordPass(status, time.Since(started), eventsRead, nil)
	return err
}

// compute runs the requested families concurrently over the snapshot.
func (a *Aggregator) compute(ctx context.Context, snap *Snapshot, req PassRequest) (*computed, error) {
	days := req.Window.Expand(timeframe.GrainDay)
	out := &computed{}

	if req.has(FamilySessions) || req.has(FamilyFunnels) {
		begin := time.Now()
		sessions, err := DeriveSessions(ctx, snap, days.Start, days.End, a.opts.Workers)
		if err != nil {
			return nil, err
		}
		out.sessions = sessions
		a.opts.Metrics.RecordFamily(string(FamilySessions), time.Since(begin))
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(a.opts.Workers)

	if req.has(FamilyActiveUsers) {
		type period struct {
			grain timeframe.Grain
			start time.Time
		}
		var periods []period
		for _, g := range req.Grains {
			for _, start := range req.Window.Periods(g) {
				periods = append(periods, period{grain: g, start: start})
			}
		}
		out.activeUsers = make([]ActiveUserCount, len(periods))
		for i, p := range periods {
			eg.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				out.activeUsers[i] = CountActiveUsers(snap, p.start, p.grain)
				return nil
			})
		}
	}

	if req.has(FamilyRetention) {
		eg.Go(func() error {
			begin := time.Now()
			// Cohorts up to MaxRetentionDays before the window still have
			// offsets landing inside it.
			cohorts := retentionCohorts(req)
			out.retention = ComputeRetention(snap, cohorts.Start, cohorts.End, req.MaxRetentionDays, req.AsOf)
			a.opts.Metrics.RecordFamily(string(FamilyRetention), time.Since(begin))
			return ctx.Err()
		})
	}

	if req.has(FamilyFunnels) {
		byDay := make(map[time.Time][]Session)
		for _, s := range out.sessions {
			day := timeframe.StartOfDay(s.Start)
			byDay[day] = append(byDay[day], s)
		}
		dayStarts := days.Periods(timeframe.GrainDay)
		out.funnels = make(map[string][]dayFunnel, len(a.opts.Funnels))
		for _, def := range a.opts.Funnels {
			out.funnels[def.Name] = make([]dayFunnel, len(dayStarts))
		}
		for _, def := range a.opts.Funnels {
			results := out.funnels[def.Name]
			eg.Go(func() error {
				begin := time.Now()
				for i, day := range dayStarts {
					if err := ctx.Err(); err != nil {
						return err
					}
					results[i] = dayFunnel{Day: day, Steps: ComputeFunnel(byDay[day], def)}
				}
				a.opts.Metrics.RecordFamily(string(FamilyFunnels), time.Since(begin))
				return nil
			})
		}
	}

	if req.has(FamilyRankings) {
		dayStarts := days.Periods(timeframe.GrainDay)
		out.rankings = make([]dayRanking, len(dayStarts)*len(rankingDimensions))
		for i, day := range dayStarts {
			eg.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				evts := snap.Range(day, timeframe.PeriodEnd(day, timeframe.GrainDay))
				for j, d := range rankingDimensions {
					out.rankings[i*len(rankingDimensions)+j] = dayRanking{
						Day:       day,
						Dimension: d.name,
						Items:     CountBy(evts, d.dim).Items(),
					}
				}
				return nil
			})
		}
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// verify checks the invariants every published aggregate must satisfy.
func verify(out *computed) error {
	for _, c := range out.activeUsers {
		if c.Identified < 0 || c.Anonymous < 0 {
			return errs.NewComputationError(string(FamilyActiveUsers), "negative count")
		}
		if c.Total != c.Identified+c.Anonymous {
			return errs.NewComputationError(string(FamilyActiveUsers),
				fmt.Sprintf("total %d != identified %d + anonymous %d for %s %s",
					c.Total, c.Identified, c.Anonymous, c.Grain, c.PeriodStart.Format(time.DateOnly)))
		}
	}

	for _, s := range out.sessions {
		if s.DurationSeconds < 0 || s.EventCount < 1 || s.PageViews < 0 || s.PageViews > s.EventCount {
			return errs.NewComputationError(string(FamilySessions), fmt.Sprintf("inconsistent session %s", s.ID))
		}
	}

	for _, r := range out.retention {
		if r.RetainedUsers < 0 || r.RetainedUsers > r.CohortSize {
			return errs.NewComputationError(string(FamilyRetention),
				fmt.Sprintf("retained %d exceeds cohort %d on %s+%d",
					r.RetainedUsers, r.CohortSize, r.CohortDate.Format(time.DateOnly), r.DaysSinceCohort))
		}
	}

	for name, days := range out.funnels {
		for _, df := range days {
			for k := 1; k < len(df.Steps); k++ {
				if df.Steps[k].SessionsReached > df.Steps[k-1].SessionsReached {
					return errs.NewComputationError(string(FamilyFunnels),
						fmt.Sprintf("funnel %s step %d increases on %s", name, k+1, df.Day.Format(time.DateOnly)))
				}
			}
		}
	}

	for _, r := range out.rankings {
		for _, item := range r.Items {
			if item.Count < 1 {
				return errs.NewComputationError(string(FamilyRankings), fmt.Sprintf("empty count for %q", item.Name))
			}
		}
	}
	return nil
}

// publication converts computed results into rows, marking the ones whose
// period had fully elapsed at AsOf as final.
func (a *Aggregator) publication(req PassRequest, out *computed) *analytics.Publication {
	families := make([]string, len(req.Families))
	for i, f := range req.Families {
		families[i] = string(f)
	}

	pub := &analytics.Publication{
		Recompute: req.Recompute,
		Pass: analytics.AggregationPass{
			PassID:      uuid.NewString(),
			WindowStart: req.Window.Start,
			WindowEnd:   req.Window.End,
			AsOf:        req.AsOf,
			Families:    strings.Join(families, ","),
		},
	}

	for _, c := range out.activeUsers {
		pub.ActiveUsers = append(pub.ActiveUsers, analytics.ActiveUserStat{
			Grain:       string(c.Grain),
			PeriodStart: c.PeriodStart,
			Total:       c.Total,
			Identified:  c.Identified,
			Anonymous:   c.Anonymous,
			Final:       timeframe.IsComplete(c.PeriodStart, c.Grain, req.AsOf),
		})
	}

	if req.has(FamilySessions) {
		for _, s := range out.sessions {
			day := timeframe.StartOfDay(s.Start)
			pub.Sessions = append(pub.Sessions, analytics.SessionFact{
				SessionID:       s.ID,
				IdentityKey:     s.IdentityKey,
				SessionDate:     day,
				StartedAt:       s.Start,
				EndedAt:         s.End,
				DurationSeconds: s.DurationSeconds,
				EventCount:      s.EventCount,
				PageViews:       s.PageViews,
				IsBounce:        s.IsBounce,
				EntryPage:       s.EntryPage,
				ExitPage:        s.ExitPage,
				Final: timeframe.IsComplete(day, timeframe.GrainDay, req.AsOf) &&
					!s.End.Add(a.opts.SessionTimeout).After(req.AsOf),
			})
		}
	}

	if req.has(FamilyRetention) {
		cohorts := retentionCohorts(req)
		pub.RetentionFrom, pub.RetentionTo = cohorts.Start, cohorts.End
	}
	for _, r := range out.retention {
		pub.Retention = append(pub.Retention, analytics.RetentionCohort{
			CohortDate:      r.CohortDate,
			DaysSinceCohort: r.DaysSinceCohort,
			CohortSize:      r.CohortSize,
			RetainedUsers:   r.RetainedUsers,
			RetentionRate:   r.RetentionRate,
		})
	}

	names := make([]string, 0, len(out.funnels))
	for name := range out.funnels {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, df := range out.funnels[name] {
			final := !timeframe.PeriodEnd(df.Day, timeframe.GrainDay).Add(a.opts.SessionTimeout).After(req.AsOf)
			for _, step := range df.Steps {
				pub.FunnelSteps = append(pub.FunnelSteps, analytics.FunnelStepStat{
					Funnel:          name,
					Day:             df.Day,
					StepNumber:      step.StepNumber,
					StepName:        step.StepName,
					SessionsReached: step.SessionsReached,
					Final:           final,
				})
			}
		}
	}

	for _, r := range out.rankings {
		final := timeframe.IsComplete(r.Day, timeframe.GrainDay, req.AsOf)
		for _, item := range r.Items {
			pub.Rankings = append(pub.Rankings, analytics.RankingStat{
				Day:          r.Day,
				Dimension:    r.Dimension,
				Name:         item.Name,
				Count:        item.Count,
				FirstSeenAt:  item.FirstSeenAt,
				FirstSeenSeq: item.FirstSeenSeq,
				Final:        final,
			})
		}
	}
	return pub
}
