// Package store keeps loaded ads until they are shown, reserves network
// placements and records network initialization status
package store

import (
	"context"
	"errors"
	"time"

	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/adapters"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/native"
)

// ErrNotFound is returned when an ad is unknown or has expired
var ErrNotFound = errors.New("ad not found")

// Key prefixes shared by the Redis implementations
const (
	adKeyPrefix    = "mediation:ad:"
	lockKeyPrefix  = "mediation:placement:"
	ownerKeyPrefix = "mediation:placement-owner:"
	statusHashKey  = "mediation:networks"
)

// StoredAd is a loaded ad waiting to be shown
type StoredAd struct {
	Ad        *adapters.AdResponse `json:"ad"`
	Native    *native.Ad           `json:"native,omitempty"`
	RequestID string               `json:"request_id"`
	AdUnitID  string               `json:"ad_unit_id,omitempty"`
	Placement string               `json:"placement,omitempty"`
	LoadedAt  time.Time            `json:"loaded_at"`
}

// ID returns the ad ID
func (s *StoredAd) ID() string {
	if s == nil || s.Ad == nil {
		return ""
	}
	return s.Ad.AdID
}

// AdStore caches loaded ads for a limited time
type AdStore interface {
	// Put stores ad under its ID for ttl
	Put(ctx context.Context, ad *StoredAd, ttl time.Duration) error
	// Get returns the ad without removing it
	Get(ctx context.Context, id string) (*StoredAd, error)
	// Take returns and removes the ad, so each ad is shown at most once
	Take(ctx context.Context, id string) (*StoredAd, error)
}

// PlacementLocker reserves a network placement for a single live ad
type PlacementLocker interface {
	// Acquire reserves key for owner. It returns false when another owner holds it.
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// Refresh sets a new ttl on the placement owner holds. It is a no-op when owner holds nothing.
	Refresh(ctx context.Context, owner string, ttl time.Duration) error
	// Release frees whatever placement owner holds. Releasing twice is a no-op.
	Release(ctx context.Context, owner string) error
}

// StatusStore records the last initialization outcome per network
type StatusStore interface {
	SetStatus(ctx context.Context, network, status string) error
	Statuses(ctx context.Context) (map[string]string, error)
}

// PlacementKey builds the lock key of a network placement
func PlacementKey(network, placement string) string {
	return network + ":" + placement
}
