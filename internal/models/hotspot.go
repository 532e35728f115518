package models

// HotspotAccount is the device's view of a hotspot user. OwnerID is
// carried in the device comment field and must round-trip exactly as
// written; it cross-references the portal user record.
type HotspotAccount struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Password string `json:"-"`
	Profile  string `json:"profile"`
	Disabled bool   `json:"disabled"`
	Uptime   string `json:"uptime"`
	BytesIn  int64  `json:"bytesIn"`
	BytesOut int64  `json:"bytesOut"`
	MAC      string `json:"mac,omitempty"`
	OwnerID  string `json:"ownerId,omitempty"`
	Dynamic  bool   `json:"dynamic"`
}

// ActiveSession is a live hotspot connection reported by the device.
// It is never stored authoritatively.
type ActiveSession struct {
	ID       string `json:"id"`
	User     string `json:"user"`
	Address  string `json:"address"`
	MAC      string `json:"mac"`
	Uptime   string `json:"uptime"`
	BytesIn  int64  `json:"bytesIn"`
	BytesOut int64  `json:"bytesOut"`
	LoginBy  string `json:"loginBy"`
}
