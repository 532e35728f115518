package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a portal subscriber. The hotspot sync fields are
// mutated only by the provisioning worker; billing handlers read them.
type User struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	WsnID        string `json:"wsnId" db:"wsn_id"`
	Email        string `json:"email" db:"email"`
	FirstName    string `json:"firstName" db:"first_name"`
	LastName     string `json:"lastName" db:"last_name"`
	PasswordHash string `json:"-" db:"password_hash"`
	IsAdmin      bool   `json:"isAdmin" db:"is_admin"`
	IsActive     bool   `json:"isActive" db:"is_active"`

	// Hotspot sync state
	HotspotSynced  bool       `json:"hotspotSynced" db:"hotspot_synced"`
	HotspotError   *string    `json:"hotspotError,omitempty" db:"hotspot_error"`
	LastSyncAt     *time.Time `json:"lastSyncAt,omitempty" db:"last_sync_at"`
	RouterPassword string     `json:"-" db:"router_password"`
	RouterProfile  string     `json:"routerProfile" db:"router_profile"`
	RouterDisabled bool       `json:"routerDisabled" db:"router_disabled"`

	// Usage counters reported by the device during full sync
	TotalBytesIn  int64      `json:"totalBytesIn" db:"total_bytes_in"`
	TotalBytesOut int64      `json:"totalBytesOut" db:"total_bytes_out"`
	LastSeenAt    *time.Time `json:"lastSeenAt,omitempty" db:"last_seen_at"`
}

// SessionSnapshot is a point-in-time usage record captured from the
// device during reconciliation. History is capped per user.
type SessionSnapshot struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"userId" db:"user_id"`
	SessionID string    `json:"sessionId" db:"session_id"`
	Address   string    `json:"address" db:"address"`
	MAC       string    `json:"mac" db:"mac"`
	Uptime    string    `json:"uptime" db:"uptime"`
	BytesIn   int64     `json:"bytesIn" db:"bytes_in"`
	BytesOut  int64     `json:"bytesOut" db:"bytes_out"`
	LoginBy   string    `json:"loginBy" db:"login_by"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// SyncStateUpdate carries the sync fields a completed job writes back
// onto the user record. Nil pointer fields are left unchanged.
type SyncStateUpdate struct {
	RouterPassword *string
	RouterProfile  *string
	RouterDisabled *bool
}
