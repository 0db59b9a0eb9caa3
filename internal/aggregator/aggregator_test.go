package aggregator_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/aggregator"
	"pulse/internal/analytics"
	"pulse/internal/errs"
	"pulse/internal/events"
	"pulse/internal/identity"
	"pulse/internal/pkg/telemetry"
	"pulse/internal/testsupport"
	"pulse/internal/timeframe"
)

type memorySource struct {
	mu     sync.Mutex
	events []events.RawEvent
	links  []identity.Link
	err    error
	calls  int
	from   time.Time
	to     time.Time
}

func (m *memorySource) LoadEvents(_ context.Context, from, to time.Time) ([]events.RawEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.from, m.to = from, to
	if m.err != nil {
		return nil, m.err
	}
	var out []events.RawEvent
	for _, e := range m.events {
		if (from.IsZero() || !e.EventTimestamp.Before(from)) && e.EventTimestamp.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memorySource) LoadIdentityLinks(_ context.Context, _ time.Time) ([]identity.Link, error) {
	return m.links, nil
}

func (m *memorySource) LoadSessionEvents(_ context.Context, ids []string, until time.Time) ([]events.RawEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var out []events.RawEvent
	for _, e := range m.events {
		if e.SessionID != nil && wanted[*e.SessionID] && e.EventTimestamp.Before(until) {
			out = append(out, e)
		}
	}
	return out, nil
}

type memoryPublisher struct {
	mu   sync.Mutex
	pubs []*analytics.Publication
	err  error
}

func (m *memoryPublisher) Publish(_ context.Context, pub *analytics.Publication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.pubs = append(m.pubs, pub)
	return nil
}

func newAggregator(src aggregator.EventSource, pub aggregator.Publisher) *aggregator.Aggregator {
	return aggregator.New(src, pub, testsupport.GetLogger(), aggregator.Options{
		Workers: 2,
		Metrics: telemetry.NewMetrics(prometheus.NewRegistry()),
	})
}

func dayWindow(day time.Time, days int) timeframe.Window {
	return timeframe.Window{Start: day, End: day.AddDate(0, 0, days)}
}

func TestRunRejectsInvalidRequests(t *testing.T) {
	d1 := testsupport.Date(2025, 1, 1)
	tests := []struct {
		name string
		req  aggregator.PassRequest
	}{
		{"inverted window", aggregator.PassRequest{Window: timeframe.Window{Start: d1, End: d1.Add(-time.Hour)}}},
		{"empty window", aggregator.PassRequest{}},
		{"negative retention days", aggregator.PassRequest{Window: dayWindow(d1, 1), MaxRetentionDays: -1}},
		{"unknown family", aggregator.PassRequest{Window: dayWindow(d1, 1), Families: []aggregator.Family{"bogus"}}},
		{"unknown grain", aggregator.PassRequest{Window: dayWindow(d1, 1), Grains: []timeframe.Grain{"hour"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &memorySource{}
			pub := &memoryPublisher{}
			_, err := newAggregator(src, pub).Run(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errs.IsValidation(err))
			assert.Zero(t, src.calls)
			assert.Empty(t, pub.pubs)
		})
	}
}

func TestRunPublishesEveryFamily(t *testing.T) {
	d1 := testsupport.Date(2025, 1, 1)
	asOf := d1.AddDate(0, 0, 3)
	src := &memorySource{events: build(
		testsupport.PageView("/", d1.Add(10*time.Hour)).User("u1").Session("s1").Country("US"),
		testsupport.NewEvent("signup_started", d1.Add(10*time.Hour+time.Minute)).User("u1").Session("s1"),
	)}
	pub := &memoryPublisher{}

	result, err := newAggregator(src, pub).Run(context.Background(), aggregator.PassRequest{
		Window:           dayWindow(d1, 1),
		MaxRetentionDays: 2,
		AsOf:             asOf,
	})
	require.NoError(t, err)
	require.Len(t, pub.pubs, 1)
	p := pub.pubs[0]

	assert.True(t, src.from.IsZero(), "retention needs the whole log")
	assert.True(t, asOf.Equal(src.to))
	assert.Equal(t, 2, result.EventsRead)
	assert.NotEmpty(t, result.PassID)
	assert.Equal(t, p.Pass.PassID, result.PassID)
	assert.Equal(t, "active_users,sessions,retention,funnels,rankings", p.Pass.Families)

	require.Len(t, p.ActiveUsers, 3)
	final := map[string]bool{}
	for _, row := range p.ActiveUsers {
		assert.Equal(t, int64(1), row.Total)
		assert.Equal(t, int64(1), row.Identified)
		final[row.Grain] = row.Final
	}
	assert.Equal(t, map[string]bool{"day": true, "week": false, "month": false}, final)

	require.Len(t, p.Sessions, 1)
	assert.Equal(t, "s1", p.Sessions[0].SessionID)
	assert.Equal(t, int64(60), p.Sessions[0].DurationSeconds)
	assert.True(t, p.Sessions[0].Final)

	require.Len(t, p.Retention, 3)
	assert.Equal(t, int64(1), p.Retention[0].RetainedUsers)
	assert.Equal(t, int64(0), p.Retention[1].RetainedUsers)

	require.Len(t, p.FunnelSteps, 3)
	assert.Equal(t, int64(1), p.FunnelSteps[0].SessionsReached)
	assert.Equal(t, int64(1), p.FunnelSteps[1].SessionsReached)
	assert.Equal(t, int64(0), p.FunnelSteps[2].SessionsReached)
	assert.True(t, p.FunnelSteps[0].Final)

	dims := map[string]int{}
	for _, r := range p.Rankings {
		dims[r.Dimension]++
		assert.True(t, r.Final)
	}
	assert.Equal(t, map[string]int{"event": 2, "page": 1, "country": 1}, dims)

	assert.Equal(t, p.RowCount(), result.RowsWritten)
	assert.Equal(t, 3, result.Rows[aggregator.FamilyActiveUsers])
}

func TestRunLoadsOnlyWhatFamiliesNeed(t *testing.T) {
	d1 := testsupport.Date(2025, 1, 15)
	src := &memorySource{events: build(
		testsupport.PageView("/", d1.Add(time.Hour)).Anonymous("a1"),
		testsupport.PageView("/", d1.AddDate(0, 0, -3)).Anonymous("a2"),
	)}
	pub := &memoryPublisher{}

	_, err := newAggregator(src, pub).Run(context.Background(), aggregator.PassRequest{
		Window:   dayWindow(d1, 1),
		Grains:   []timeframe.Grain{timeframe.GrainDay},
		Families: []aggregator.Family{aggregator.FamilyActiveUsers},
		AsOf:     d1.AddDate(0, 0, 5),
	})
	require.NoError(t, err)

	assert.True(t, d1.Equal(src.from))
	assert.True(t, d1.AddDate(0, 0, 1).Equal(src.to))
	require.Len(t, pub.pubs, 1)
	p := pub.pubs[0]
	require.Len(t, p.ActiveUsers, 1)
	assert.Equal(t, int64(1), p.ActiveUsers[0].Anonymous)
	assert.Empty(t, p.Sessions)
	assert.Empty(t, p.Retention)
	assert.Empty(t, p.FunnelSteps)
	assert.Empty(t, p.Rankings)
}

func TestRunBuildsSessionsFromAllTheirEvents(t *testing.T) {
	d1 := testsupport.Date(2025, 1, 1)
	src := &memorySource{events: build(
		// Runs past midnight, more than a session timeout beyond the window.
		testsupport.PageView("/", d1.Add(23*time.Hour+50*time.Minute)).User("u1").Session("s1"),
		testsupport.PageView("/pricing", d1.Add(25*time.Hour)).User("u1").Session("s1"),
		// Started the day before the window.
		testsupport.PageView("/", d1.Add(-2*time.Hour)).User("u2").Session("s0"),
		testsupport.PageView("/docs", d1.Add(40*time.Minute)).User("u2").Session("s0"),
		// Starts after AsOf and stays invisible.
		testsupport.PageView("/late", d1.AddDate(0, 0, 5)).User("u1").Session("s1"),
	)}
	pub := &memoryPublisher{}

	_, err := newAggregator(src, pub).Run(context.Background(), aggregator.PassRequest{
		Window:   dayWindow(d1, 1),
		Families: []aggregator.Family{aggregator.FamilySessions},
		AsOf:     d1.AddDate(0, 0, 3),
	})
	require.NoError(t, err)
	require.Len(t, pub.pubs, 1)

	sessions := pub.pubs[0].Sessions
	require.Len(t, sessions, 1)
	s1 := sessions[0]
	assert.Equal(t, "s1", s1.SessionID)
	assert.True(t, d1.Add(25*time.Hour).Equal(s1.EndedAt))
	assert.Equal(t, int64(70*60), s1.DurationSeconds)
	assert.Equal(t, int64(2), s1.EventCount)
	assert.False(t, s1.IsBounce)
	assert.Equal(t, "/pricing", s1.ExitPage)
	assert.True(t, s1.Final)
}

func TestRunMarksInProgressPeriodsNotFinal(t *testing.T) {
	d1 := testsupport.Date(2025, 1, 1)
	src := &memorySource{events: build(
		testsupport.PageView("/", d1.Add(10*time.Hour)).User("u1").Session("s1"),
	)}
	pub := &memoryPublisher{}

	_, err := newAggregator(src, pub).Run(context.Background(), aggregator.PassRequest{
		Window:   dayWindow(d1, 1),
		Families: []aggregator.Family{aggregator.FamilyActiveUsers, aggregator.FamilySessions, aggregator.FamilyRetention},
		AsOf:     d1.Add(10*time.Hour + 5*time.Minute),
	})
	require.NoError(t, err)
	p := pub.pubs[0]

	for _, row := range p.ActiveUsers {
		assert.False(t, row.Final)
	}
	require.Len(t, p.Sessions, 1)
	assert.False(t, p.Sessions[0].Final)
	assert.Empty(t, p.Retention, "no day of the cohort has elapsed")
}

func TestRunDefaultsAsOfToNow(t *testing.T) {
	now := testsupport.At(2025, 3, 1, 12, 0)
	src := &memorySource{}
	pub := &memoryPublisher{}
	agg := aggregator.New(src, pub, testsupport.GetLogger(), aggregator.Options{
		TimeProvider: &timeframe.FixedTimeProvider{At: now},
	})

	result, err := agg.Run(context.Background(), aggregator.PassRequest{
		Window:   dayWindow(testsupport.Date(2025, 2, 27), 1),
		Families: []aggregator.Family{aggregator.FamilyActiveUsers},
	})
	require.NoError(t, err)
	assert.True(t, now.Equal(result.AsOf))
}

func TestRunDoesNotPublishOnFailure(t *testing.T) {
	d1 := testsupport.Date(2025, 1, 1)

	t.Run("source error", func(t *testing.T) {
		pub := &memoryPublisher{}
		_, err := newAggregator(&memorySource{err: errors.New("disk gone")}, pub).
			Run(context.Background(), aggregator.PassRequest{Window: dayWindow(d1, 1)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load events")
		assert.Empty(t, pub.pubs)
	})

	t.Run("cancelled", func(t *testing.T) {
		src := &memorySource{events: build(
			testsupport.PageView("/", d1.Add(time.Hour)).User("u1").Session("s1"),
		)}
		pub := &memoryPublisher{}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := newAggregator(src, pub).Run(ctx, aggregator.PassRequest{Window: dayWindow(d1, 1), AsOf: d1.AddDate(0, 0, 2)})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, pub.pubs)
	})

	t.Run("publish error skips hooks", func(t *testing.T) {
		pub := &memoryPublisher{err: errors.New("locked")}
		agg := newAggregator(&memorySource{}, pub)
		called := false
		agg.OnPublish(func(*aggregator.PassResult) { called = true })

		_, err := agg.Run(context.Background(), aggregator.PassRequest{Window: dayWindow(d1, 1)})
		require.Error(t, err)
		assert.False(t, called)
	})
}

func TestRunNotifiesPublishHooks(t *testing.T) {
	d1 := testsupport.Date(2025, 1, 1)
	agg := newAggregator(&memorySource{}, &memoryPublisher{})

	var got *aggregator.PassResult
	agg.OnPublish(func(r *aggregator.PassResult) { got = r })

	result, err := agg.Run(context.Background(), aggregator.PassRequest{Window: dayWindow(d1, 1)})
	require.NoError(t, err)
	assert.Same(t, result, got)
}

func TestConcurrentPassesOverDisjointWindows(t *testing.T) {
	d1 := testsupport.Date(2025, 1, 1)
	var builders []*testsupport.EventBuilder
	for i := 0; i < 10; i++ {
		day := d1.AddDate(0, 0, i)
		builders = append(builders,
			testsupport.PageView("/", day.Add(time.Hour)).User("u1").Session("s-"+day.Format(time.DateOnly)),
			testsupport.PageView("/", day.Add(2*time.Hour)).Anonymous("a-"+day.Format(time.DateOnly)))
	}
	src := &memorySource{events: build(builders...)}
	pub := &memoryPublisher{}
	agg := newAggregator(src, pub)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := agg.Run(context.Background(), aggregator.PassRequest{
				Window: dayWindow(d1.AddDate(0, 0, i), 1),
				Grains: []timeframe.Grain{timeframe.GrainDay},
				AsOf:   d1.AddDate(0, 1, 0),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, pub.pubs, 10)
	for _, p := range pub.pubs {
		require.Len(t, p.ActiveUsers, 1)
		assert.Equal(t, int64(2), p.ActiveUsers[0].Total)
		assert.Len(t, p.Sessions, 1)
	}
}

func TestParseFamily(t *testing.T) {
	f, err := aggregator.ParseFamily("retention")
	require.NoError(t, err)
	assert.Equal(t, aggregator.FamilyRetention, f)

	_, err = aggregator.ParseFamily("pageviews")
	assert.True(t, errs.IsValidation(err))
}
