package events

import (
	"encoding/json"
	"time"
)

// RawEvent is one immutable behavioral fact. Rows are appended at ingest and
// never updated; Seq records ingestion order and breaks timestamp ties.
type RawEvent struct {
	Seq            uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	EventID        string    `gorm:"uniqueIndex;size:36;not null" json:"id"`
	EventName      string    `gorm:"index;not null" json:"event_name"`
	EventTimestamp time.Time `gorm:"index;not null" json:"event_timestamp"`
	UserID         *string   `gorm:"index" json:"user_id"`
	AnonymousID    *string   `gorm:"index" json:"anonymous_id"`
	SessionID      *string   `gorm:"index" json:"session_id"`
	Properties     string    `gorm:"type:text" json:"-"`
	UserProperties string    `gorm:"type:text" json:"-"`

	DeviceType     *string `json:"device_type"`
	DeviceModel    *string `json:"device_model"`
	OSName         *string `json:"os_name"`
	OSVersion      *string `json:"os_version"`
	BrowserName    *string `json:"browser_name"`
	BrowserVersion *string `json:"browser_version"`

	Country *string `gorm:"index" json:"country"`
	Region  *string `json:"region"`
	City    *string `json:"city"`

	PageURL   *string `json:"page_url"`
	PageTitle *string `json:"page_title"`
	PagePath  *string `gorm:"index" json:"page_path"`
	Referrer  *string `json:"referrer"`

	UTMSource   *string `json:"utm_source"`
	UTMMedium   *string `json:"utm_medium"`
	UTMCampaign *string `json:"utm_campaign"`
	UTMTerm     *string `json:"utm_term"`
	UTMContent  *string `json:"utm_content"`

	ScreenWidth    *int `json:"screen_width"`
	ScreenHeight   *int `json:"screen_height"`
	ViewportWidth  *int `json:"viewport_width"`
	ViewportHeight *int `json:"viewport_height"`

	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`
	ReceivedAt time.Time `gorm:"index" json:"received_at"`
}

// TableName keeps the table name stable regardless of the struct name.
func (RawEvent) TableName() string {
	return "raw_events"
}

// PropertiesMap decodes the stored properties, returning nil when empty or invalid.
func (e *RawEvent) PropertiesMap() map[string]any {
	return decodeJSONMap(e.Properties)
}

// UserPropertiesMap decodes the stored user properties.
func (e *RawEvent) UserPropertiesMap() map[string]any {
	return decodeJSONMap(e.UserProperties)
}

// IsPageView reports whether the event is a page view.
func (e *RawEvent) IsPageView() bool {
	return e.EventName == PageViewEvent
}

func decodeJSONMap(s string) map[string]any {
	if s == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

// EventInput is one record of an ingest batch as sent by a client.
type EventInput struct {
	EventName      string         `json:"event_name"`
	EventTimestamp string         `json:"event_timestamp,omitempty"`
	Timestamp      string         `json:"timestamp,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	AnonymousID    string         `json:"anonymous_id,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	Properties     map[string]any `json:"properties,omitempty"`
	UserProperties map[string]any `json:"user_properties,omitempty"`

	DeviceType     string `json:"device_type,omitempty"`
	DeviceModel    string `json:"device_model,omitempty"`
	OSName         string `json:"os_name,omitempty"`
	OSVersion      string `json:"os_version,omitempty"`
	BrowserName    string `json:"browser_name,omitempty"`
	BrowserVersion string `json:"browser_version,omitempty"`

	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`

	PageURL   string `json:"page_url,omitempty"`
	PageTitle string `json:"page_title,omitempty"`
	PagePath  string `json:"page_path,omitempty"`
	Referrer  string `json:"referrer,omitempty"`

	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty"`
	UTMContent  string `json:"utm_content,omitempty"`

	ScreenWidth    *int `json:"screen_width,omitempty"`
	ScreenHeight   *int `json:"screen_height,omitempty"`
	ViewportWidth  *int `json:"viewport_width,omitempty"`
	ViewportHeight *int `json:"viewport_height,omitempty"`

	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// timestampValue returns whichever timestamp field the client filled in.
func (in *EventInput) timestampValue() string {
	if in.EventTimestamp != "" {
		return in.EventTimestamp
	}
	return in.Timestamp
}
