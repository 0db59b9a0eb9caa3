package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"pulse/internal/errs"
	"pulse/internal/identity"
)

// ClientInfo describes the connection a batch arrived on.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// IngestRequest is one batch of events plus the identity context it was sent with.
type IngestRequest struct {
	Context    identity.Context
	Events     []EventInput
	Client     ClientInfo
	ReceivedAt time.Time

	// FingerprintSalt enables a hashed anonymous id for events that carry no
	// identifier at all. Empty disables it.
	FingerprintSalt string
}

// IngestResult reports what was stored.
type IngestResult struct {
	Count    int      `json:"events_ingested"`
	EventIDs []string `json:"event_ids"`
}

// Ingest validates and stores a batch. The batch is all-or-nothing: if any
// record is invalid nothing is written and a BatchValidationError lists every
// failing record.
func Ingest(db *gorm.DB, logger *slog.Logger, req IngestRequest) (*IngestResult, error) {
	if len(req.Events) == 0 {
		return nil, errs.NewValidationError("events", "at least one event is required")
	}

	receivedAt := req.ReceivedAt.UTC()
	if req.ReceivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	var failures []errs.RecordFailure
	rows := make([]*RawEvent, 0, len(req.Events))
	for i := range req.Events {
		row, failure := buildRawEvent(logger, &req.Events[i], req, receivedAt)
		if failure != nil {
			failure.Index = i
			failures = append(failures, *failure)
			continue
		}
		rows = append(rows, row)
	}
	if len(failures) > 0 {
		logger.Debug("Rejected ingest batch",
			slog.Int("events", len(req.Events)),
			slog.Int("invalid", len(failures)))
		return nil, &errs.BatchValidationError{Failures: failures}
	}

	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.CreateInBatches(rows, 100).Error
	})
	if err != nil {
		logger.Error("Failed to store raw events", slog.Any("error", err))
		return nil, fmt.Errorf("failed to store raw events: %w", err)
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.EventID
	}

	logger.Debug("Ingested events", slog.Int("count", len(rows)))
	return &IngestResult{Count: len(rows), EventIDs: ids}, nil
}

func buildRawEvent(logger *slog.Logger, in *EventInput, req IngestRequest, receivedAt time.Time) (*RawEvent, *errs.RecordFailure) {
	name := strings.TrimSpace(in.EventName)
	if name == "" {
		return nil, &errs.RecordFailure{Field: "event_name", Reason: "is required"}
	}

	timestamp := receivedAt
	if raw := strings.TrimSpace(in.timestampValue()); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, &errs.RecordFailure{Field: "event_timestamp", Reason: "must be an RFC3339 timestamp"}
		}
		timestamp = parsed.UTC()
	}

	properties, err := encodeJSONMap(in.Properties)
	if err != nil {
		return nil, &errs.RecordFailure{Field: "properties", Reason: "must be a JSON object"}
	}
	userProperties, err := encodeJSONMap(in.UserProperties)
	if err != nil {
		return nil, &errs.RecordFailure{Field: "user_properties", Reason: "must be a JSON object"}
	}

	ipAddress := firstNonEmpty(in.IPAddress, req.Client.IPAddress, UnknownClientValue)
	userAgent := firstNonEmpty(in.UserAgent, req.Client.UserAgent, UnknownClientValue)

	userID := firstNonEmpty(in.UserID, req.Context.UserID)
	anonymousID := firstNonEmpty(in.AnonymousID, req.Context.AnonymousID)
	if userID == "" && anonymousID == "" && req.FingerprintSalt != "" && ipAddress != UnknownClientValue {
		anonymousID = identity.Fingerprint(ipAddress, userAgent, req.FingerprintSalt)
	}

	pagePath := in.PagePath
	if pagePath == "" && in.PageURL != "" {
		pagePath = pathFromURL(in.PageURL)
	}

	country := normalizeCountry(in.Country)
	if country == "" && ipAddress != UnknownClientValue {
		country = GetCountryFromIP(logger, ipAddress)
	}

	return &RawEvent{
		EventID:        uuid.NewString(),
		EventName:      name,
		EventTimestamp: timestamp,
		UserID:         nullable(userID),
		AnonymousID:    nullable(anonymousID),
		SessionID:      nullable(firstNonEmpty(in.SessionID, req.Context.SessionID)),
		Properties:     properties,
		UserProperties: userProperties,
		DeviceType:     nullable(strings.ToLower(in.DeviceType)),
		DeviceModel:    nullable(in.DeviceModel),
		OSName:         nullable(NormalizeOperatingSystem(in.OSName)),
		OSVersion:      nullable(in.OSVersion),
		BrowserName:    nullable(in.BrowserName),
		BrowserVersion: nullable(in.BrowserVersion),
		Country:        nullable(country),
		Region:         nullable(in.Region),
		City:           nullable(in.City),
		PageURL:        nullable(in.PageURL),
		PageTitle:      nullable(in.PageTitle),
		PagePath:       nullable(pagePath),
		Referrer:       nullable(in.Referrer),
		UTMSource:      nullable(in.UTMSource),
		UTMMedium:      nullable(in.UTMMedium),
		UTMCampaign:    nullable(in.UTMCampaign),
		UTMTerm:        nullable(in.UTMTerm),
		UTMContent:     nullable(in.UTMContent),
		ScreenWidth:    in.ScreenWidth,
		ScreenHeight:   in.ScreenHeight,
		ViewportWidth:  in.ViewportWidth,
		ViewportHeight: in.ViewportHeight,
		IPAddress:      ipAddress,
		UserAgent:      userAgent,
		ReceivedAt:     receivedAt,
	}, nil
}

func encodeJSONMap(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
