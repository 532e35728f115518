// Package routerrpc carries synchronous device reads between the
// portal and the provisioner over NATS request/reply. The provisioner
// runs the Responder next to the device session; the portal uses the
// Client.
package routerrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/wsn-portal/provisioning-server/internal/models"
)

// RPC subjects
const (
	SubjectAccounts = "router.accounts"
	SubjectActive   = "router.active"
	SubjectProfiles = "router.profiles"
	SubjectKick     = "router.kick"
)

type accountsReply struct {
	Accounts []models.HotspotAccount `json:"accounts,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

type activeReply struct {
	Sessions []models.ActiveSession `json:"sessions,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

type profilesReply struct {
	Profiles []string `json:"profiles,omitempty"`
	Error    string   `json:"error,omitempty"`
}

type kickRequest struct {
	SessionID string `json:"sessionId"`
}

type kickReply struct {
	Error string `json:"error,omitempty"`
}

// Device is the operation surface the responder serves
type Device interface {
	ListAccounts(ctx context.Context) ([]models.HotspotAccount, error)
	ListActiveSessions(ctx context.Context) ([]models.ActiveSession, error)
	ListProfiles(ctx context.Context) ([]string, error)
	KickSession(ctx context.Context, sessionID string) error
}

// Responder serves device reads over NATS request/reply. Each handler
// runs its device call under timeout so a down router cannot pin the
// callback past the requester's own deadline.
type Responder struct {
	nc      *nats.Conn
	device  Device
	timeout time.Duration
	subs    []*nats.Subscription
}

// NewResponder creates a responder
func NewResponder(nc *nats.Conn, device Device, timeout time.Duration) *Responder {
	return &Responder{
		nc:      nc,
		device:  device,
		timeout: timeout,
		subs:    make([]*nats.Subscription, 0),
	}
}

func (r *Responder) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

// Start subscribes the RPC subjects and blocks until ctx is done
func (r *Responder) Start(ctx context.Context) error {
	handlers := map[string]nats.MsgHandler{
		SubjectAccounts: r.handleAccounts,
		SubjectActive:   r.handleActive,
		SubjectProfiles: r.handleProfiles,
		SubjectKick:     r.handleKick,
	}

	for subject, handler := range handlers {
		sub, err := r.nc.Subscribe(subject, handler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		r.subs = append(r.subs, sub)
	}

	log.Info().Int("subscriptions", len(r.subs)).Msg("Router RPC responder started")

	<-ctx.Done()

	for _, sub := range r.subs {
		sub.Unsubscribe()
	}

	return ctx.Err()
}

func (r *Responder) handleAccounts(msg *nats.Msg) {
	ctx, cancel := r.requestContext()
	defer cancel()

	accounts, err := r.device.ListAccounts(ctx)
	reply := accountsReply{Accounts: accounts}
	if err != nil {
		reply.Error = err.Error()
	}
	r.respond(msg, reply)
}

func (r *Responder) handleActive(msg *nats.Msg) {
	ctx, cancel := r.requestContext()
	defer cancel()

	sessions, err := r.device.ListActiveSessions(ctx)
	reply := activeReply{Sessions: sessions}
	if err != nil {
		reply.Error = err.Error()
	}
	r.respond(msg, reply)
}

func (r *Responder) handleProfiles(msg *nats.Msg) {
	ctx, cancel := r.requestContext()
	defer cancel()

	profiles, err := r.device.ListProfiles(ctx)
	reply := profilesReply{Profiles: profiles}
	if err != nil {
		reply.Error = err.Error()
	}
	r.respond(msg, reply)
}

func (r *Responder) handleKick(msg *nats.Msg) {
	var req kickRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.respond(msg, kickReply{Error: "invalid kick request"})
		return
	}

	ctx, cancel := r.requestContext()
	defer cancel()

	var reply kickReply
	if err := r.device.KickSession(ctx, req.SessionID); err != nil {
		reply.Error = err.Error()
	}
	r.respond(msg, reply)
}

func (r *Responder) respond(msg *nats.Msg, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal RPC reply")
		return
	}
	if err := msg.Respond(data); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to respond to RPC")
	}
}
