package events

// Well-known event names
const (
	PageViewEvent = "page_view"
)

// Constants for unknown or default values
const (
	UnknownClientValue = "unknown"
	DefaultQueryLimit  = 100
	MaxQueryLimit      = 10000
)
