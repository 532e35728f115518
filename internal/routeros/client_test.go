package routeros

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor records submitted sentences and answers from a script
type fakeExecutor struct {
	calls   [][]string
	respond func(sentence []string) ([]Row, error)
}

func (f *fakeExecutor) Submit(ctx context.Context, sentence ...string) ([]Row, error) {
	f.calls = append(f.calls, sentence)
	if f.respond != nil {
		return f.respond(sentence)
	}
	return nil, nil
}

func TestClient_ListAccounts_SkipsDynamicAndNormalizes(t *testing.T) {
	exec := &fakeExecutor{
		respond: func(sentence []string) ([]Row, error) {
			return []Row{
				{
					".id": "*1", "name": "wsn001", "password": "secret",
					"profile": "premium", "disabled": "false",
					"bytes-in": "1024", "bytes-out": "2048",
					"comment": "3f1d0e7a-9a41-4c3e-8a95-2a3a5d9f1b11",
				},
				{".id": "*2", "name": "dyn-guest", "dynamic": "true"},
				{".id": "*3", "name": "wsn002", "disabled": "true"},
			}, nil
		},
	}
	client := NewClient(exec)

	accounts, err := client.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	assert.Equal(t, "wsn001", accounts[0].Name)
	assert.Equal(t, "secret", accounts[0].Password)
	assert.Equal(t, "premium", accounts[0].Profile)
	assert.Equal(t, int64(1024), accounts[0].BytesIn)
	assert.Equal(t, int64(2048), accounts[0].BytesOut)
	assert.Equal(t, "3f1d0e7a-9a41-4c3e-8a95-2a3a5d9f1b11", accounts[0].OwnerID)
	assert.Equal(t, "0s", accounts[0].Uptime)
	assert.False(t, accounts[0].Disabled)

	assert.Equal(t, "wsn002", accounts[1].Name)
	assert.True(t, accounts[1].Disabled)
}

func TestClient_FindAccountID_CaseInsensitive(t *testing.T) {
	exec := &fakeExecutor{
		respond: func(sentence []string) ([]Row, error) {
			return []Row{
				{".id": "*7", "name": "WSN042"},
			}, nil
		},
	}
	client := NewClient(exec)

	id, err := client.FindAccountID(context.Background(), "wsn042")
	require.NoError(t, err)
	assert.Equal(t, "*7", id)
}

func TestClient_FindAccountID_AbsentIsNotAnError(t *testing.T) {
	exec := &fakeExecutor{}
	client := NewClient(exec)

	id, err := client.FindAccountID(context.Background(), "wsn999")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestClient_AddAccount_DefaultsProfileAndStoresOwner(t *testing.T) {
	exec := &fakeExecutor{}
	client := NewClient(exec)

	err := client.AddAccount(context.Background(), "wsn001", "pw", "", "owner-id")
	require.NoError(t, err)

	require.Len(t, exec.calls, 1)
	assert.Equal(t, []string{
		"/ip/hotspot/user/add",
		"=name=wsn001",
		"=password=pw",
		"=profile=default",
		"=comment=owner-id",
	}, exec.calls[0])
}

func TestClient_SetPassword_LooksUpThenUpdates(t *testing.T) {
	exec := &fakeExecutor{
		respond: func(sentence []string) ([]Row, error) {
			if sentence[0] == "/ip/hotspot/user/print" {
				return []Row{{".id": "*3", "name": "wsn001"}}, nil
			}
			return nil, nil
		},
	}
	client := NewClient(exec)

	err := client.SetPassword(context.Background(), "wsn001", "newpw")
	require.NoError(t, err)

	require.Len(t, exec.calls, 2)
	assert.Equal(t, []string{
		"/ip/hotspot/user/set",
		"=.id=*3",
		"=password=newpw",
	}, exec.calls[1])
}

func TestClient_SetPassword_AccountMissing(t *testing.T) {
	exec := &fakeExecutor{}
	client := NewClient(exec)

	err := client.SetPassword(context.Background(), "wsn404", "pw")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.Contains(t, err.Error(), "not found")
}

func TestClient_DisableEnable_UseDeviceID(t *testing.T) {
	exec := &fakeExecutor{
		respond: func(sentence []string) ([]Row, error) {
			if sentence[0] == "/ip/hotspot/user/print" {
				return []Row{{".id": "*9", "name": "wsn001"}}, nil
			}
			return nil, nil
		},
	}
	client := NewClient(exec)

	require.NoError(t, client.DisableAccount(context.Background(), "wsn001"))
	assert.Equal(t, []string{"/ip/hotspot/user/disable", "=.id=*9"}, exec.calls[1])

	require.NoError(t, client.EnableAccount(context.Background(), "wsn001"))
	assert.Equal(t, []string{"/ip/hotspot/user/enable", "=.id=*9"}, exec.calls[3])
}

func TestClient_AccountExists_UsesNameFilter(t *testing.T) {
	exec := &fakeExecutor{
		respond: func(sentence []string) ([]Row, error) {
			return []Row{{".id": "*1", "name": "wsn001"}}, nil
		},
	}
	client := NewClient(exec)

	exists, err := client.AccountExists(context.Background(), "wsn001")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, []string{"/ip/hotspot/user/print", "?name=wsn001"}, exec.calls[0])
}

func TestClient_AccountExists_False(t *testing.T) {
	exec := &fakeExecutor{}
	client := NewClient(exec)

	exists, err := client.AccountExists(context.Background(), "wsn404")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestClient_ListActiveSessions(t *testing.T) {
	exec := &fakeExecutor{
		respond: func(sentence []string) ([]Row, error) {
			return []Row{
				{
					".id": "*A", "user": "wsn001", "address": "10.0.0.5",
					"mac-address": "AA:BB:CC:DD:EE:FF", "uptime": "1h2m",
					"bytes-in": "100", "bytes-out": "200", "login-by": "http-chap",
				},
			}, nil
		},
	}
	client := NewClient(exec)

	sessions, err := client.ListActiveSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "wsn001", sessions[0].User)
	assert.Equal(t, "10.0.0.5", sessions[0].Address)
	assert.Equal(t, int64(100), sessions[0].BytesIn)
	assert.Equal(t, "http-chap", sessions[0].LoginBy)
}

func TestClient_KickSession(t *testing.T) {
	exec := &fakeExecutor{}
	client := NewClient(exec)

	require.NoError(t, client.KickSession(context.Background(), "*A"))
	assert.Equal(t, []string{"/ip/hotspot/active/remove", "=.id=*A"}, exec.calls[0])
}

func TestClient_PropagatesExecutorErrors(t *testing.T) {
	execErr := errors.New("session lost")
	exec := &fakeExecutor{
		respond: func(sentence []string) ([]Row, error) {
			return nil, execErr
		},
	}
	client := NewClient(exec)

	_, err := client.ListAccounts(context.Background())
	assert.ErrorIs(t, err, execErr)

	_, err = client.ListProfiles(context.Background())
	assert.ErrorIs(t, err, execErr)
}
