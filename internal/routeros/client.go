package routeros

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/wsn-portal/provisioning-server/internal/models"
)

// ErrAccountNotFound is returned by update operations when the named
// account does not exist on the device.
var ErrAccountNotFound = errors.New("account not found on device")

// Client translates hotspot operations into device commands via the
// serializer and normalizes replies into model types.
type Client struct {
	exec Executor
}

// NewClient creates an operation client over an executor
func NewClient(exec Executor) *Client {
	return &Client{exec: exec}
}

// formatAccount normalizes a hotspot user attribute list
func formatAccount(row Row) models.HotspotAccount {
	return models.HotspotAccount{
		ID:       row[".id"],
		Name:     row["name"],
		Password: row["password"],
		Profile:  row["profile"],
		Disabled: row["disabled"] == "true",
		Uptime:   defaultString(row["uptime"], "0s"),
		BytesIn:  parseInt64(row["bytes-in"]),
		BytesOut: parseInt64(row["bytes-out"]),
		MAC:      row["mac-address"],
		OwnerID:  row["comment"],
		Dynamic:  row["dynamic"] == "true",
	}
}

// ListAccounts returns all non-dynamic hotspot accounts
func (c *Client) ListAccounts(ctx context.Context) ([]models.HotspotAccount, error) {
	rows, err := c.exec.Submit(ctx, "/ip/hotspot/user/print")
	if err != nil {
		return nil, fmt.Errorf("list hotspot accounts: %w", err)
	}

	accounts := make([]models.HotspotAccount, 0, len(rows))
	for _, row := range rows {
		if row["dynamic"] == "true" {
			continue
		}
		accounts = append(accounts, formatAccount(row))
	}
	return accounts, nil
}

// ListProfiles returns the available service profile names
func (c *Client) ListProfiles(ctx context.Context) ([]string, error) {
	rows, err := c.exec.Submit(ctx, "/ip/hotspot/user/profile/print")
	if err != nil {
		return nil, fmt.Errorf("list hotspot profiles: %w", err)
	}

	profiles := make([]string, 0, len(rows))
	for _, row := range rows {
		profiles = append(profiles, row["name"])
	}
	return profiles, nil
}

// FindAccountID resolves the device-internal id for a username using a
// case-insensitive exact match. Returns empty string when absent;
// absence is not an error.
func (c *Client) FindAccountID(ctx context.Context, username string) (string, error) {
	rows, err := c.exec.Submit(ctx, "/ip/hotspot/user/print")
	if err != nil {
		return "", fmt.Errorf("find hotspot account: %w", err)
	}

	for _, row := range rows {
		if strings.EqualFold(row["name"], username) {
			return row[".id"], nil
		}
	}
	return "", nil
}

// AddAccount creates a hotspot account. The owner id is stored in the
// device comment field and cross-references the portal user record.
func (c *Client) AddAccount(ctx context.Context, username, password, profile, ownerID string) error {
	if profile == "" {
		profile = "default"
	}

	_, err := c.exec.Submit(ctx,
		"/ip/hotspot/user/add",
		"=name="+username,
		"=password="+password,
		"=profile="+profile,
		"=comment="+ownerID,
	)
	if err != nil {
		return fmt.Errorf("add hotspot account %q: %w", username, err)
	}
	return nil
}

// SetPassword updates an account's password
func (c *Client) SetPassword(ctx context.Context, username, newPassword string) error {
	id, err := c.FindAccountID(ctx, username)
	if err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("set password for %q: %w", username, ErrAccountNotFound)
	}

	_, err = c.exec.Submit(ctx,
		"/ip/hotspot/user/set",
		"=.id="+id,
		"=password="+newPassword,
	)
	if err != nil {
		return fmt.Errorf("set password for %q: %w", username, err)
	}
	return nil
}

// SetProfile updates an account's service profile
func (c *Client) SetProfile(ctx context.Context, username, profile string) error {
	id, err := c.FindAccountID(ctx, username)
	if err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("set profile for %q: %w", username, ErrAccountNotFound)
	}

	_, err = c.exec.Submit(ctx,
		"/ip/hotspot/user/set",
		"=.id="+id,
		"=profile="+profile,
	)
	if err != nil {
		return fmt.Errorf("set profile for %q: %w", username, err)
	}
	return nil
}

// DisableAccount suspends an account
func (c *Client) DisableAccount(ctx context.Context, username string) error {
	id, err := c.FindAccountID(ctx, username)
	if err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("disable %q: %w", username, ErrAccountNotFound)
	}

	if _, err = c.exec.Submit(ctx, "/ip/hotspot/user/disable", "=.id="+id); err != nil {
		return fmt.Errorf("disable %q: %w", username, err)
	}
	return nil
}

// EnableAccount reactivates an account
func (c *Client) EnableAccount(ctx context.Context, username string) error {
	id, err := c.FindAccountID(ctx, username)
	if err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("enable %q: %w", username, ErrAccountNotFound)
	}

	if _, err = c.exec.Submit(ctx, "/ip/hotspot/user/enable", "=.id="+id); err != nil {
		return fmt.Errorf("enable %q: %w", username, err)
	}
	return nil
}

// ListActiveSessions returns the device's live hotspot sessions
func (c *Client) ListActiveSessions(ctx context.Context) ([]models.ActiveSession, error) {
	rows, err := c.exec.Submit(ctx, "/ip/hotspot/active/print")
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}

	sessions := make([]models.ActiveSession, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, models.ActiveSession{
			ID:       row[".id"],
			User:     row["user"],
			Address:  row["address"],
			MAC:      row["mac-address"],
			Uptime:   row["uptime"],
			BytesIn:  parseInt64(row["bytes-in"]),
			BytesOut: parseInt64(row["bytes-out"]),
			LoginBy:  row["login-by"],
		})
	}
	return sessions, nil
}

// KickSession terminates a live session by its device id
func (c *Client) KickSession(ctx context.Context, sessionID string) error {
	if _, err := c.exec.Submit(ctx, "/ip/hotspot/active/remove", "=.id="+sessionID); err != nil {
		return fmt.Errorf("kick session %q: %w", sessionID, err)
	}
	return nil
}

// AccountExists checks for an account by exact name filter
func (c *Client) AccountExists(ctx context.Context, username string) (bool, error) {
	rows, err := c.exec.Submit(ctx, "/ip/hotspot/user/print", "?name="+username)
	if err != nil {
		return false, fmt.Errorf("check hotspot account %q: %w", username, err)
	}
	return len(rows) > 0, nil
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
