// Package identity resolves raw event identifiers into the visitors counted by
// the aggregates.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	identifiedPrefix = "u:"
	anonymousPrefix  = "a:"
)

// Context carries the identifiers the calling application knows about the
// visitor sending a batch. Events may override any of them individually.
type Context struct {
	UserID      string `json:"user_id,omitempty"`
	AnonymousID string `json:"anonymous_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
}

// Identity is a resolved visitor.
type Identity struct {
	Key        string
	Identified bool
}

// Link records that an anonymous id and a user id were seen on the same event.
type Link struct {
	AnonymousID string
	UserID      string
	FirstSeen   time.Time
}

// Resolver coalesces user ids over anonymous ids. An anonymous id that was
// ever linked to a user id resolves to that user, so a visitor seen both ways
// is counted once, as identified.
type Resolver struct {
	links map[string]string
}

// NewResolver builds a resolver from links ordered by first sighting. When an
// anonymous id was linked to several users the earliest link wins.
func NewResolver(links []Link) *Resolver {
	r := &Resolver{links: make(map[string]string, len(links))}
	for _, l := range links {
		if l.AnonymousID == "" || l.UserID == "" {
			continue
		}
		if _, exists := r.links[l.AnonymousID]; !exists {
			r.links[l.AnonymousID] = l.UserID
		}
	}
	return r
}

// Resolve returns the identity behind an event's identifiers. The second
// return value is false when the event carries neither id.
func (r *Resolver) Resolve(userID, anonymousID *string) (Identity, bool) {
	if userID != nil && *userID != "" {
		return Identity{Key: identifiedPrefix + *userID, Identified: true}, true
	}
	if anonymousID != nil && *anonymousID != "" {
		if r != nil {
			if linked, ok := r.links[*anonymousID]; ok {
				return Identity{Key: identifiedPrefix + linked, Identified: true}, true
			}
		}
		return Identity{Key: anonymousPrefix + *anonymousID, Identified: false}, true
	}
	return Identity{}, false
}

// LinkCount returns the number of stitched anonymous ids.
func (r *Resolver) LinkCount() int {
	return len(r.links)
}

// Fingerprint derives a stable anonymous id from request attributes for
// clients that send no identifiers at all. The IP address is only hashed,
// never stored in the result.
func Fingerprint(ipAddress, userAgent, salt string) string {
	data := fmt.Sprintf("%s.%s.%s", salt, ipAddress, userAgent)
	hash := sha256.Sum256([]byte(data))
	return "fp_" + hex.EncodeToString(hash[:16])
}
