package provisioner

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wsn-portal/provisioning-server/internal/models"
	"github.com/wsn-portal/provisioning-server/internal/storage"
)

// fullSync reconciles drift between the device and the database.
// Usage counters flow device -> database; credentials, profile and the
// desired enabled state flow database -> device. Device accounts with
// no matching user are left untouched.
func (w *Worker) fullSync(ctx context.Context) (models.Variables, error) {
	accounts, err := w.device.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("full sync: %w", err)
	}

	active, err := w.device.ListActiveSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("full sync: %w", err)
	}

	activeByUser := make(map[string]models.ActiveSession, len(active))
	for _, sess := range active {
		activeByUser[sess.User] = sess
	}

	var matched, pushed, errCount int
	for _, acct := range accounts {
		user, err := w.matchUser(ctx, acct)
		if err != nil {
			log.Error().Err(err).Str("account", acct.Name).Msg("Full sync: user lookup failed")
			errCount++
			continue
		}
		if user == nil {
			continue
		}
		matched++

		if err := w.syncUsage(ctx, user, acct, activeByUser); err != nil {
			log.Error().Err(err).Str("account", acct.Name).Msg("Full sync: usage sync failed")
			errCount++
		}

		n, err := w.pushDesiredState(ctx, user, acct)
		pushed += n
		if err != nil {
			log.Error().Err(err).Str("account", acct.Name).Msg("Full sync: push failed")
			errCount++
		}
	}

	result := models.Variables{
		"accounts": len(accounts),
		"matched":  matched,
		"pushed":   pushed,
		"errors":   errCount,
	}

	if errCount > 0 {
		return nil, fmt.Errorf("full sync finished with %d errors", errCount)
	}

	w.logSyncEvent(ctx, result)

	log.Info().
		Int("accounts", len(accounts)).
		Int("matched", matched).
		Int("pushed", pushed).
		Msg("Full sync completed")

	return result, nil
}

// matchUser finds the portal user for a device account: by hotspot
// username first, then by the owner id carried in the comment field.
// A nil user means the account is an orphan and is skipped.
func (w *Worker) matchUser(ctx context.Context, acct models.HotspotAccount) (*models.User, error) {
	user, err := w.store.GetUserByWsnID(ctx, acct.Name)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if acct.OwnerID == "" {
		return nil, nil
	}
	ownerID, parseErr := uuid.Parse(acct.OwnerID)
	if parseErr != nil {
		return nil, nil
	}

	user, err = w.store.GetUser(ctx, ownerID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// syncUsage copies device-reported counters into the user record and
// appends a usage snapshot to the user's capped session history
func (w *Worker) syncUsage(ctx context.Context, user *models.User, acct models.HotspotAccount, activeByUser map[string]models.ActiveSession) error {
	if err := w.store.UpdateUserUsage(ctx, user.ID, acct.BytesIn, acct.BytesOut); err != nil {
		return err
	}

	snap := &models.SessionSnapshot{
		UserID:   user.ID,
		Uptime:   acct.Uptime,
		BytesIn:  acct.BytesIn,
		BytesOut: acct.BytesOut,
	}
	if sess, ok := activeByUser[acct.Name]; ok {
		snap.SessionID = sess.ID
		snap.Address = sess.Address
		snap.MAC = sess.MAC
		snap.Uptime = sess.Uptime
		snap.LoginBy = sess.LoginBy
	}

	return w.store.AppendSessionSnapshot(ctx, snap, w.historyLimit)
}

// pushDesiredState corrects the device where it disagrees with the
// database. Returns how many corrections were issued.
func (w *Worker) pushDesiredState(ctx context.Context, user *models.User, acct models.HotspotAccount) (int, error) {
	var pushed int

	if user.RouterPassword != "" && user.RouterPassword != acct.Password {
		if err := w.device.SetPassword(ctx, acct.Name, user.RouterPassword); err != nil {
			return pushed, err
		}
		pushed++
	}

	if user.RouterProfile != "" && user.RouterProfile != acct.Profile {
		if err := w.device.SetProfile(ctx, acct.Name, user.RouterProfile); err != nil {
			return pushed, err
		}
		pushed++
	}

	if user.RouterDisabled != acct.Disabled {
		var err error
		if user.RouterDisabled {
			err = w.device.DisableAccount(ctx, acct.Name)
		} else {
			err = w.device.EnableAccount(ctx, acct.Name)
		}
		if err != nil {
			return pushed, err
		}
		pushed++
	}

	return pushed, nil
}

// logSyncEvent records a completed reconciliation pass
func (w *Worker) logSyncEvent(ctx context.Context, details models.Variables) {
	event := &models.EventLog{
		Type:        models.EventTypeSyncCompleted,
		Level:       models.EventLevelInfo,
		Description: "Full sync completed",
		Details:     details,
	}
	if err := w.store.CreateEventLog(ctx, event); err != nil {
		log.Error().Err(err).Msg("Failed to create event log")
	}
}
