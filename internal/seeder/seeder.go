package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"pulse/internal/errs"
	"pulse/internal/events"
	"pulse/internal/identity"
)

const (
	siteURL            = "https://example.com"
	defaultDays        = 30
	signupCompleteRate = 0.6
	goalEventRate      = 0.2
	returningRate      = 0.4
)

// Options configures a seeding run.
type Options struct {
	EventCount int
	// Days is how far back sessions are spread. Defaults to 30.
	Days int
	// Seed makes a run reproducible. Zero picks a random seed.
	Seed uint64
	Now  func() time.Time
}

// Seeder fills the raw event log with synthetic browsing sessions. Events go
// through events.Ingest, so they are validated and enriched like real traffic.
type Seeder struct {
	db     *gorm.DB
	logger *slog.Logger
	opts   Options
	rng    *rand.Rand

	visitors []*visitor
	ipPool   []string
}

type visitor struct {
	anonymousID string
	userID      string
	ip          string
	profile     deviceProfile
	country     string
}

// NewSeeder creates a seeder writing to db.
func NewSeeder(db *gorm.DB, logger *slog.Logger, opts Options) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Days <= 0 {
		opts.Days = defaultDays
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Seeder{
		db:     db,
		logger: logger,
		opts:   opts,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Run ingests sessions until at least EventCount events are stored and
// returns how many were.
func (s *Seeder) Run(ctx context.Context) (int, error) {
	if s.opts.EventCount <= 0 {
		return 0, errs.NewValidationError("events", "must be positive")
	}

	start := time.Now()
	s.logger.Info("Starting event seeding...", slog.Int("eventCount", s.opts.EventCount))

	s.ipPool = generateIPPool(s.rng, 100)
	s.visitors = nil

	now := s.opts.Now().UTC()
	stored, sessions := 0, 0
	for stored < s.opts.EventCount {
		if ctx.Err() != nil {
			return stored, ctx.Err()
		}

		req := s.session(now)
		result, err := events.Ingest(s.db, s.logger, req)
		if err != nil {
			return stored, fmt.Errorf("failed to ingest seeded session: %w", err)
		}
		stored += result.Count
		sessions++
	}

	s.logger.Info("Seeding completed successfully",
		slog.Int("sessions", sessions),
		slog.Int("events", stored),
		slog.Int("visitors", len(s.visitors)),
		slog.Duration("elapsed", time.Since(start)))
	return stored, nil
}

// session builds one visit: a journey of page views, optionally followed by
// a goal event or the signup funnel.
func (s *Seeder) session(now time.Time) events.IngestRequest {
	v := s.pickVisitor()
	journey := journeyTemplates[s.rng.IntN(len(journeyTemplates))]

	// Leave room for the whole journey before now.
	window := time.Duration(s.opts.Days) * 24 * time.Hour
	base := now.Add(-time.Hour - time.Duration(s.rng.Int64N(int64(window-time.Hour))))
	base = base.Truncate(time.Second)

	referrer := referrerPool[s.rng.IntN(len(referrerPool))]
	utm := s.utmTags()

	var batch []events.EventInput
	at := base
	for i, path := range journey {
		if i > 0 {
			at = at.Add(time.Duration(s.rng.IntN(110)+10) * time.Second)
		}
		in := events.EventInput{
			EventName:      events.PageViewEvent,
			EventTimestamp: at.Format(time.RFC3339),
			PageURL:        siteURL + path,
			PagePath:       path,
			PageTitle:      pageTitle(path),
			DeviceType:     v.profile.deviceType,
			OSName:         v.profile.os,
			BrowserName:    v.profile.browser,
			Country:        v.country,
		}
		if i == 0 {
			in.Referrer = referrer
			in.UTMSource, in.UTMMedium, in.UTMCampaign = utm.Get("utm_source"), utm.Get("utm_medium"), utm.Get("utm_campaign")
		}
		batch = append(batch, in)
	}

	last := journey[len(journey)-1]
	switch {
	case last == "/signup":
		at = at.Add(30 * time.Second)
		batch = append(batch, events.EventInput{EventName: "signup_started", EventTimestamp: at.Format(time.RFC3339)})
		if s.rng.Float64() < signupCompleteRate {
			if v.userID == "" {
				v.userID = "user-" + v.anonymousID[len("anon-"):]
			}
			at = at.Add(time.Duration(s.rng.IntN(120)+30) * time.Second)
			batch = append(batch, events.EventInput{
				EventName:      "signup_completed",
				EventTimestamp: at.Format(time.RFC3339),
				UserID:         v.userID,
				Properties:     map[string]any{"plan": "free"},
			})
		}
	case s.rng.Float64() < goalEventRate:
		goal := goalEvents[s.rng.IntN(len(goalEvents))]
		at = at.Add(time.Minute)
		batch = append(batch, events.EventInput{
			EventName:      goal.name,
			EventTimestamp: at.Format(time.RFC3339),
			Properties:     goal.properties,
		})
	}

	return events.IngestRequest{
		Context: identity.Context{
			UserID:      v.userID,
			AnonymousID: v.anonymousID,
			SessionID:   uuid.NewString(),
		},
		Events:     batch,
		Client:     events.ClientInfo{IPAddress: v.ip, UserAgent: v.profile.userAgent},
		ReceivedAt: now,
	}
}

// pickVisitor returns a known visitor often enough for retention and
// stickiness to have something to measure.
func (s *Seeder) pickVisitor() *visitor {
	if len(s.visitors) > 0 && s.rng.Float64() < returningRate {
		return s.visitors[s.rng.IntN(len(s.visitors))]
	}
	v := &visitor{
		anonymousID: fmt.Sprintf("anon-%d", len(s.visitors)+1),
		ip:          s.ipPool[s.rng.IntN(len(s.ipPool))],
		profile:     deviceProfiles[s.rng.IntN(len(deviceProfiles))],
		country:     countries[s.rng.IntN(len(countries))],
	}
	s.visitors = append(s.visitors, v)
	return v
}

// utmTags tags about one in five entry pages with a campaign.
func (s *Seeder) utmTags() url.Values {
	params := url.Values{}
	if s.rng.IntN(10) < 8 {
		return params
	}
	for _, utm := range utmOptions {
		params.Set(utm.key, utm.values[s.rng.IntN(len(utm.values))])
	}
	return params
}

func pageTitle(path string) string {
	if path == "/" {
		return "Home"
	}
	return path[1:]
}

// generateIPPool creates unique public-looking IPv4 addresses.
func generateIPPool(rng *rand.Rand, count int) []string {
	seen := make(map[string]bool)
	var ips []string
	for len(ips) < count {
		ip := fmt.Sprintf("%d.%d.%d.%d", rng.IntN(222)+1, rng.IntN(256), rng.IntN(256), rng.IntN(254)+1)
		if !seen[ip] {
			seen[ip] = true
			ips = append(ips, ip)
		}
	}
	return ips
}
