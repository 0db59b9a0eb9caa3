package aggregator

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"pulse/internal/events"
)

// Session is a group of events sharing a session id.
type Session struct {
	ID              string
	IdentityKey     string
	Start           time.Time
	End             time.Time
	DurationSeconds int64
	EventCount      int64
	PageViews       int64
	EntryPage       string
	ExitPage        string
	IsBounce        bool

	// EventNames lists the session's event names in order, for funnel matching.
	EventNames []string
}

// DeriveSessions groups the snapshot's events by session id and returns the
// sessions that started in [from, to), ordered by start then id. Events
// without a session id belong to no session. Sessions are built in parallel
// across at most workers goroutines.
func DeriveSessions(ctx context.Context, snap *Snapshot, from, to time.Time, workers int) ([]Session, error) {
	groups := make(map[string][]*events.RawEvent)
	var ids []string
	all := snap.Events()
	for i := range all {
		e := &all[i]
		if e.SessionID == nil || *e.SessionID == "" {
			continue
		}
		if _, ok := groups[*e.SessionID]; !ok {
			ids = append(ids, *e.SessionID)
		}
		groups[*e.SessionID] = append(groups[*e.SessionID], e)
	}

	if workers < 1 {
		workers = 1
	}
	sessions := make([]Session, len(ids))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	chunk := (len(ids) + workers - 1) / workers
	for lo := 0; lo < len(ids); lo += chunk {
		hi := min(lo+chunk, len(ids))
		eg.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				sessions[i] = buildSession(snap, ids[i], groups[ids[i]])
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	result := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		if !s.Start.Before(from) && s.Start.Before(to) {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Start.Equal(result[j].Start) {
			return result[i].Start.Before(result[j].Start)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// buildSession summarizes one session. Events arrive in snapshot order.
func buildSession(snap *Snapshot, id string, evts []*events.RawEvent) Session {
	s := Session{
		ID:         id,
		Start:      evts[0].EventTimestamp,
		End:        evts[len(evts)-1].EventTimestamp,
		EventCount: int64(len(evts)),
		EventNames: make([]string, 0, len(evts)),
	}

	var anonymousKey string
	for _, e := range evts {
		s.EventNames = append(s.EventNames, e.EventName)

		if e.IsPageView() {
			s.PageViews++
			if e.PagePath != nil {
				if s.EntryPage == "" {
					s.EntryPage = *e.PagePath
				}
				s.ExitPage = *e.PagePath
			}
		}

		if s.IdentityKey == "" {
			if id, ok := snap.Resolve(e); ok {
				if id.Identified {
					s.IdentityKey = id.Key
				} else if anonymousKey == "" {
					anonymousKey = id.Key
				}
			}
		}
	}
	if s.IdentityKey == "" {
		s.IdentityKey = anonymousKey
	}

	s.DurationSeconds = int64(s.End.Sub(s.Start).Seconds())
	s.IsBounce = s.EventCount == 1 || s.PageViews == 1
	return s
}
