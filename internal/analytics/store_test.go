package analytics_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/analytics"
	"pulse/internal/testsupport"
	"pulse/internal/timeframe"
)

func newStore(t *testing.T) *analytics.Store {
	t.Helper()
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllAggregates(db)
	return analytics.NewStore(db, logger)
}

func publish(t *testing.T, store *analytics.Store, pub analytics.Publication) {
	t.Helper()
	pub.Pass.PassID = uuid.NewString()
	pub.Pass.Families = "active_users"
	require.NoError(t, store.Publish(context.Background(), &pub))
}

func dau(day time.Time, total, identified int64, final bool) analytics.ActiveUserStat {
	return analytics.ActiveUserStat{
		Grain:       string(timeframe.GrainDay),
		PeriodStart: day,
		Total:       total,
		Identified:  identified,
		Anonymous:   total - identified,
		Final:       final,
	}
}

func TestPublishRespectsFinalRows(t *testing.T) {
	d1 := testsupport.Date(2025, 1, 6)
	d2 := testsupport.Date(2025, 1, 7)

	tests := []struct {
		name      string
		first     analytics.ActiveUserStat
		second    analytics.ActiveUserStat
		recompute bool
		want      int64
	}{
		{"provisional row is replaced", dau(d2, 3, 1, false), dau(d2, 5, 2, false), false, 5},
		{"provisional row becomes final", dau(d2, 3, 1, false), dau(d2, 4, 2, true), false, 4},
		{"final row is kept", dau(d1, 3, 1, true), dau(d1, 7, 2, true), false, 3},
		{"final row is revised on recompute", dau(d1, 3, 1, true), dau(d1, 7, 2, true), true, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			publish(t, store, analytics.Publication{ActiveUsers: []analytics.ActiveUserStat{tt.first}})
			publish(t, store, analytics.Publication{
				Recompute:   tt.recompute,
				ActiveUsers: []analytics.ActiveUserStat{tt.second},
			})

			row, found, err := store.GetActiveUsers(timeframe.GrainDay, tt.first.PeriodStart)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, tt.want, row.Total)
			assert.Equal(t, row.Total, row.Identified+row.Anonymous)
		})
	}
}

func TestRetentionEntriesAreNotRevisedWithoutRecompute(t *testing.T) {
	store := newStore(t)
	cohort := testsupport.Date(2025, 1, 6)
	entry := func(retained int64) analytics.RetentionCohort {
		return analytics.RetentionCohort{
			CohortDate: cohort, DaysSinceCohort: 1, CohortSize: 4,
			RetainedUsers: retained, RetentionRate: float64(retained) * 25,
		}
	}

	publish(t, store, analytics.Publication{Retention: []analytics.RetentionCohort{entry(1)}})
	publish(t, store, analytics.Publication{Retention: []analytics.RetentionCohort{entry(2)}})

	rows, err := store.ListRetention(&cohort, 30, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].RetainedUsers)

	publish(t, store, analytics.Publication{Recompute: true, Retention: []analytics.RetentionCohort{entry(3)}})
	rows, err = store.ListRetention(&cohort, 30, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rows[0].RetainedUsers)
	assert.Equal(t, 75.0, rows[0].RetentionRate)
}

func TestListActiveUsers(t *testing.T) {
	store := newStore(t)
	var rows []analytics.ActiveUserStat
	for i := 0; i < 5; i++ {
		rows = append(rows, dau(testsupport.Date(2025, 1, 1+i), int64(i+1), 0, true))
	}
	publish(t, store, analytics.Publication{ActiveUsers: rows})

	all, err := store.ListActiveUsers(timeframe.GrainDay, nil, 10)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, testsupport.Date(2025, 1, 5), all[0].PeriodStart.UTC())

	window := timeframe.Window{Start: testsupport.Date(2025, 1, 2), End: testsupport.Date(2025, 1, 4)}
	inRange, err := store.ListActiveUsers(timeframe.GrainDay, &window, 10)
	require.NoError(t, err)
	require.Len(t, inRange, 2)
	assert.Equal(t, int64(3), inRange[0].Total)

	limited, err := store.ListActiveUsers(timeframe.GrainDay, nil, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	latest, found, err := store.LatestActiveUsers(timeframe.GrainDay)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(5), latest.Total)

	_, found, err = store.LatestActiveUsers(timeframe.GrainMonth)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLatestPassAndPrune(t *testing.T) {
	store := newStore(t)

	_, found, err := store.LatestPass()
	require.NoError(t, err)
	assert.False(t, found)

	for i := 0; i < 5; i++ {
		publish(t, store, analytics.Publication{})
	}

	// Age the first three passes.
	old := time.Now().UTC().AddDate(0, 0, -100)
	require.NoError(t, store.DB().Model(&analytics.AggregationPass{}).
		Where("id <= ?", 3).
		Update("created_at", old).Error)

	latest, found, err := store.LatestPass()
	require.NoError(t, err)
	require.True(t, found)
	assert.NotEmpty(t, latest.PassID)

	cutoff := time.Now().UTC().AddDate(0, 0, -90)
	deleted, err := store.PrunePasses(cutoff, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	deleted, err = store.PrunePasses(cutoff, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	deleted, err = store.PrunePasses(cutoff, 2)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	var remaining int64
	require.NoError(t, store.DB().Model(&analytics.AggregationPass{}).Count(&remaining).Error)
	assert.Equal(t, int64(2), remaining)
}
