// Package models defines the data shapes shared by the portal client:
// the cached user snapshot, subscription tiers and limits, and the local
// rate-limit tracker state. JSON field names are part of the on-disk
// contract with earlier portal builds and must not change.
package models

import "time"

// User is the denormalized snapshot of an authenticated identity, cached
// next to the credential so a restart does not need a network round-trip.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Tier      Tier      `json:"subscription_tier,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}
