package aggregator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/aggregator"
	"pulse/internal/analytics"
	"pulse/internal/events"
	"pulse/internal/identity"
	"pulse/internal/testsupport"
	"pulse/internal/timeframe"
)

func TestIngestAggregateAndRead(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	_, err := events.Ingest(db, logger, events.IngestRequest{
		Context: identity.Context{UserID: "u1"},
		Events: []events.EventInput{
			{EventName: "page_view", EventTimestamp: "2025-01-01T10:00:00Z", PageURL: "https://example.com/"},
			{EventName: "page_view", EventTimestamp: "2025-01-02T10:00:00Z", PageURL: "https://example.com/pricing"},
		},
	})
	require.NoError(t, err)

	store := analytics.NewStore(db, logger)
	agg := aggregator.New(events.NewSource(db), store, logger, aggregator.Options{Workers: 2})

	d1 := testsupport.Date(2025, 1, 1)
	result, err := agg.Run(context.Background(), aggregator.PassRequest{
		Window:           timeframe.Window{Start: d1, End: d1.AddDate(0, 0, 2)},
		MaxRetentionDays: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.EventsRead)

	dau, found, err := store.GetActiveUsers(timeframe.GrainDay, d1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(1), dau.Total)
	assert.Equal(t, int64(1), dau.Identified)
	assert.True(t, dau.Final)

	rows, err := store.ListRetention(&d1, 30, 1000)
	require.NoError(t, err)
	require.NotEmpty(t, rows)

	var day1 *analytics.RetentionCohort
	for i := range rows {
		if rows[i].DaysSinceCohort == 1 {
			day1 = &rows[i]
		}
	}
	require.NotNil(t, day1)
	assert.Equal(t, int64(1), day1.CohortSize)
	assert.Equal(t, int64(1), day1.RetainedUsers)
	assert.Equal(t, 100.0, day1.RetentionRate)

	pass, found, err := store.LatestPass()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, result.PassID, pass.PassID)
	assert.Equal(t, result.RowsWritten, pass.RowsWritten)
}

func TestFinalRowsSurviveLateEventsUntilRecompute(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	d1 := testsupport.Date(2025, 1, 1)
	testsupport.InsertEvents(t, db,
		testsupport.PageView("/", d1.Add(9*time.Hour)).User("u1"),
	)

	store := analytics.NewStore(db, logger)
	agg := aggregator.New(events.NewSource(db), store, logger, aggregator.Options{})
	req := aggregator.PassRequest{
		Window:   timeframe.DayWindow(d1),
		Grains:   []timeframe.Grain{timeframe.GrainDay},
		Families: []aggregator.Family{aggregator.FamilyActiveUsers, aggregator.FamilyRetention},
		AsOf:     d1.AddDate(0, 0, 3),
	}

	_, err := agg.Run(context.Background(), req)
	require.NoError(t, err)

	// A late event for the already-final day.
	testsupport.InsertEvents(t, db,
		testsupport.PageView("/", d1.Add(20*time.Hour)).User("u2"),
	)

	_, err = agg.Run(context.Background(), req)
	require.NoError(t, err)

	dau, _, err := store.GetActiveUsers(timeframe.GrainDay, d1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dau.Total, "final row is not revised by a regular pass")

	cohort, err := store.ListRetention(&d1, 0, 10)
	require.NoError(t, err)
	require.Len(t, cohort, 1)
	assert.Equal(t, int64(1), cohort[0].CohortSize, "retention is append-only")

	req.Recompute = true
	_, err = agg.Run(context.Background(), req)
	require.NoError(t, err)

	dau, _, err = store.GetActiveUsers(timeframe.GrainDay, d1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), dau.Total)

	cohort, err = store.ListRetention(&d1, 0, 10)
	require.NoError(t, err)
	require.Len(t, cohort, 1)
	assert.Equal(t, int64(2), cohort[0].CohortSize)
}

func TestNonFinalRowsAreReplaced(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	d1 := testsupport.Date(2025, 1, 1)
	testsupport.InsertEvents(t, db,
		testsupport.PageView("/", d1.Add(9*time.Hour)).User("u1"),
	)

	store := analytics.NewStore(db, logger)
	agg := aggregator.New(events.NewSource(db), store, logger, aggregator.Options{})
	req := aggregator.PassRequest{
		Window:   timeframe.DayWindow(d1),
		Grains:   []timeframe.Grain{timeframe.GrainDay},
		Families: []aggregator.Family{aggregator.FamilyActiveUsers},
		AsOf:     d1.Add(12 * time.Hour),
	}
	_, err := agg.Run(context.Background(), req)
	require.NoError(t, err)

	testsupport.InsertEvents(t, db,
		testsupport.PageView("/", d1.Add(11*time.Hour)).Anonymous("a1"),
	)
	_, err = agg.Run(context.Background(), req)
	require.NoError(t, err)

	dau, found, err := store.GetActiveUsers(timeframe.GrainDay, d1)
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, dau.Final)
	assert.Equal(t, int64(2), dau.Total)
	assert.Equal(t, int64(1), dau.Anonymous)
}

func TestRecomputeReconcilesCohortsAfterLateIdentityLinks(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	d1 := testsupport.Date(2025, 1, 1)
	d3 := d1.AddDate(0, 0, 2)
	testsupport.InsertEvents(t, db,
		testsupport.PageView("/", d1.Add(10*time.Hour)).Anonymous("a1"),
		testsupport.PageView("/", d3.Add(10*time.Hour)).User("u1"),
	)

	store := analytics.NewStore(db, logger)
	agg := aggregator.New(events.NewSource(db), store, logger, aggregator.Options{})
	retention := []aggregator.Family{aggregator.FamilyRetention}

	_, err := agg.Run(context.Background(), aggregator.PassRequest{
		Window:           timeframe.Window{Start: d1, End: d1.AddDate(0, 0, 3)},
		Families:         retention,
		MaxRetentionDays: 7,
		AsOf:             d1.AddDate(0, 0, 3),
	})
	require.NoError(t, err)

	// a1 logs in as u1, merging the two identities into the d1 cohort.
	testsupport.InsertEvents(t, db,
		testsupport.NewEvent("login", d1.AddDate(0, 0, 4).Add(10*time.Hour)).Anonymous("a1").User("u1"),
	)
	_, err = agg.Run(context.Background(), aggregator.PassRequest{
		Window:           timeframe.DayWindow(d1.AddDate(0, 0, 4)),
		Families:         retention,
		MaxRetentionDays: 7,
		AsOf:             d1.AddDate(0, 0, 5),
	})
	require.NoError(t, err)

	rows, err := store.ListRetention(&d3, 30, 100)
	require.NoError(t, err)
	require.Len(t, rows, 1, "published cohorts are append-only")

	rows, err = store.ListRetention(&d1, 30, 100)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, int64(0), rows[2].RetainedUsers, "published offsets keep their value")
	assert.Equal(t, int64(1), rows[4].RetainedUsers)

	_, err = agg.Run(context.Background(), aggregator.PassRequest{
		Window:           timeframe.Window{Start: d1, End: d1.AddDate(0, 0, 5)},
		Families:         retention,
		MaxRetentionDays: 7,
		AsOf:             d1.AddDate(0, 0, 5),
		Recompute:        true,
	})
	require.NoError(t, err)

	rows, err = store.ListRetention(&d3, 30, 100)
	require.NoError(t, err)
	assert.Empty(t, rows, "the merged identity leaves its later cohort")

	rows, err = store.ListRetention(&d1, 30, 100)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	for _, row := range rows {
		assert.Equal(t, int64(1), row.CohortSize)
	}
	assert.Equal(t, int64(1), rows[2].RetainedUsers)
}
