package routerrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/wsn-portal/provisioning-server/internal/models"
)

// Requester issues a request and waits for a reply. Satisfied by
// *nats.Conn.
type Requester interface {
	RequestWithContext(ctx context.Context, subject string, data []byte) (*nats.Msg, error)
}

// Client is the portal-side handle for synchronous device reads. Calls
// block for the device round-trip, bounded by the request timeout.
type Client struct {
	nc      Requester
	timeout time.Duration
}

// NewClient creates an RPC client
func NewClient(nc Requester, timeout time.Duration) *Client {
	return &Client{nc: nc, timeout: timeout}
}

// request performs one round-trip and unmarshals the reply
func (c *Client) request(ctx context.Context, subject string, req, reply interface{}) error {
	data := []byte("{}")
	if req != nil {
		var err error
		data, err = json.Marshal(req)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", subject, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("request %s: %w", subject, err)
	}

	if err := json.Unmarshal(msg.Data, reply); err != nil {
		return fmt.Errorf("unmarshal %s reply: %w", subject, err)
	}
	return nil
}

// ListAccounts returns the device's hotspot accounts
func (c *Client) ListAccounts(ctx context.Context) ([]models.HotspotAccount, error) {
	var reply accountsReply
	if err := c.request(ctx, SubjectAccounts, nil, &reply); err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, errors.New(reply.Error)
	}
	return reply.Accounts, nil
}

// ListActiveSessions returns the device's live sessions
func (c *Client) ListActiveSessions(ctx context.Context) ([]models.ActiveSession, error) {
	var reply activeReply
	if err := c.request(ctx, SubjectActive, nil, &reply); err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, errors.New(reply.Error)
	}
	return reply.Sessions, nil
}

// ListProfiles returns the device's service profile names
func (c *Client) ListProfiles(ctx context.Context) ([]string, error) {
	var reply profilesReply
	if err := c.request(ctx, SubjectProfiles, nil, &reply); err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, errors.New(reply.Error)
	}
	return reply.Profiles, nil
}

// KickSession terminates a live session by id
func (c *Client) KickSession(ctx context.Context, sessionID string) error {
	var reply kickReply
	if err := c.request(ctx, SubjectKick, kickRequest{SessionID: sessionID}, &reply); err != nil {
		return err
	}
	if reply.Error != "" {
		return errors.New(reply.Error)
	}
	return nil
}
