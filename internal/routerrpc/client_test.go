package routerrpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wsn-portal/provisioning-server/internal/models"
)

// fakeRequester answers requests from a canned reply per subject
type fakeRequester struct {
	replies  map[string]interface{}
	err      error
	requests []string
	lastData []byte
}

func (f *fakeRequester) RequestWithContext(ctx context.Context, subject string, data []byte) (*nats.Msg, error) {
	f.requests = append(f.requests, subject)
	f.lastData = data
	if f.err != nil {
		return nil, f.err
	}

	payload, err := json.Marshal(f.replies[subject])
	if err != nil {
		return nil, err
	}
	return &nats.Msg{Subject: subject, Data: payload}, nil
}

func TestClient_ListAccounts(t *testing.T) {
	req := &fakeRequester{
		replies: map[string]interface{}{
			SubjectAccounts: accountsReply{
				Accounts: []models.HotspotAccount{{Name: "wsn001", Profile: "basic"}},
			},
		},
	}
	c := NewClient(req, time.Second)

	accounts, err := c.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "wsn001", accounts[0].Name)
	assert.Equal(t, []string{SubjectAccounts}, req.requests)
}

func TestClient_RemoteErrorSurfaces(t *testing.T) {
	req := &fakeRequester{
		replies: map[string]interface{}{
			SubjectAccounts: accountsReply{Error: "router session not connected"},
		},
	}
	c := NewClient(req, time.Second)

	_, err := c.ListAccounts(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestClient_TransportErrorSurfaces(t *testing.T) {
	req := &fakeRequester{err: errors.New("nats: timeout")}
	c := NewClient(req, time.Second)

	_, err := c.ListProfiles(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), SubjectProfiles)
}

func TestClient_KickSession_SendsSessionID(t *testing.T) {
	req := &fakeRequester{
		replies: map[string]interface{}{
			SubjectKick: kickReply{},
		},
	}
	c := NewClient(req, time.Second)

	require.NoError(t, c.KickSession(context.Background(), "*A"))

	var sent kickRequest
	require.NoError(t, json.Unmarshal(req.lastData, &sent))
	assert.Equal(t, "*A", sent.SessionID)
}

func TestClient_KickSession_RemoteError(t *testing.T) {
	req := &fakeRequester{
		replies: map[string]interface{}{
			SubjectKick: kickReply{Error: "no such session"},
		},
	}
	c := NewClient(req, time.Second)

	err := c.KickSession(context.Background(), "*B")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such session")
}
