package provisioner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wsn-portal/provisioning-server/internal/models"
	"github.com/wsn-portal/provisioning-server/internal/storage"
)

// fakeStore records worker writes and serves canned users and jobs.
// Write methods honor ctx cancellation the way a real driver would.
type fakeStore struct {
	dueJobs []*models.Job
	stalled []*models.Job

	usersByID    map[uuid.UUID]*models.User
	usersByWsnID map[string]*models.User

	completed    map[uuid.UUID]bool
	rescheduled  []*models.Job
	failed       []*models.Job
	syncUpdates  map[uuid.UUID][]models.SyncStateUpdate
	syncErrors   map[uuid.UUID]string
	usage        map[uuid.UUID][2]int64
	snapshots    []*models.SessionSnapshot
	snapshotsCap int
	events       []*models.EventLog
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		usersByID:    make(map[uuid.UUID]*models.User),
		usersByWsnID: make(map[string]*models.User),
		completed:    make(map[uuid.UUID]bool),
		syncUpdates:  make(map[uuid.UUID][]models.SyncStateUpdate),
		syncErrors:   make(map[uuid.UUID]string),
		usage:        make(map[uuid.UUID][2]int64),
	}
}

func (f *fakeStore) addUser(user *models.User) {
	f.usersByID[user.ID] = user
	f.usersByWsnID[user.WsnID] = user
}

func (f *fakeStore) ClaimDueJob(ctx context.Context) (*models.Job, error) {
	if len(f.dueJobs) == 0 {
		return nil, storage.ErrNotFound
	}
	job := f.dueJobs[0]
	f.dueJobs = f.dueJobs[1:]
	job.Attempts++
	job.State = models.JobStateActive
	return job, nil
}

func (f *fakeStore) ResetStalledJobs(ctx context.Context) (int64, error) {
	n := int64(len(f.stalled))
	for _, job := range f.stalled {
		job.State = models.JobStateWaiting
		f.dueJobs = append(f.dueJobs, job)
	}
	f.stalled = nil
	return n, nil
}

func (f *fakeStore) CompleteJob(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.completed[id] = true
	return nil
}

func (f *fakeStore) RescheduleJob(ctx context.Context, job *models.Job, errMsg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	job.LastError = &errMsg
	f.rescheduled = append(f.rescheduled, job)
	return nil
}

func (f *fakeStore) FailJob(ctx context.Context, job *models.Job, errMsg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	job.LastError = &errMsg
	f.failed = append(f.failed, job)
	return nil
}

func (f *fakeStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if user, ok := f.usersByID[id]; ok {
		return user, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) GetUserByWsnID(ctx context.Context, wsnID string) (*models.User, error) {
	if user, ok := f.usersByWsnID[wsnID]; ok {
		return user, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) UpdateUserSyncState(ctx context.Context, id uuid.UUID, update models.SyncStateUpdate) error {
	f.syncUpdates[id] = append(f.syncUpdates[id], update)
	return nil
}

func (f *fakeStore) SetUserSyncError(ctx context.Context, id uuid.UUID, message string) error {
	f.syncErrors[id] = message
	return nil
}

func (f *fakeStore) UpdateUserUsage(ctx context.Context, id uuid.UUID, bytesIn, bytesOut int64) error {
	f.usage[id] = [2]int64{bytesIn, bytesOut}
	return nil
}

func (f *fakeStore) AppendSessionSnapshot(ctx context.Context, snap *models.SessionSnapshot, historyLimit int) error {
	f.snapshots = append(f.snapshots, snap)
	f.snapshotsCap = historyLimit
	return nil
}

func (f *fakeStore) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	f.events = append(f.events, event)
	return nil
}

// fakeDevice records hotspot operations
type fakeDevice struct {
	accounts []models.HotspotAccount
	active   []models.ActiveSession
	profiles []string
	existing map[string]bool

	listErr error
	opErr   error

	added     []string
	passwords map[string]string
	setProf   map[string]string
	enabled   []string
	disabled  []string
	kicked    []string
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		existing:  make(map[string]bool),
		passwords: make(map[string]string),
		setProf:   make(map[string]string),
	}
}

func (f *fakeDevice) ListAccounts(ctx context.Context) ([]models.HotspotAccount, error) {
	return f.accounts, f.listErr
}

func (f *fakeDevice) ListProfiles(ctx context.Context) ([]string, error) {
	return f.profiles, f.listErr
}

func (f *fakeDevice) ListActiveSessions(ctx context.Context) ([]models.ActiveSession, error) {
	return f.active, f.listErr
}

func (f *fakeDevice) AddAccount(ctx context.Context, username, password, profile, ownerID string) error {
	if f.opErr != nil {
		return f.opErr
	}
	f.added = append(f.added, username)
	f.existing[username] = true
	f.passwords[username] = password
	f.setProf[username] = profile
	return nil
}

func (f *fakeDevice) SetPassword(ctx context.Context, username, newPassword string) error {
	if f.opErr != nil {
		return f.opErr
	}
	f.passwords[username] = newPassword
	return nil
}

func (f *fakeDevice) SetProfile(ctx context.Context, username, profile string) error {
	if f.opErr != nil {
		return f.opErr
	}
	f.setProf[username] = profile
	return nil
}

func (f *fakeDevice) EnableAccount(ctx context.Context, username string) error {
	if f.opErr != nil {
		return f.opErr
	}
	f.enabled = append(f.enabled, username)
	return nil
}

func (f *fakeDevice) DisableAccount(ctx context.Context, username string) error {
	if f.opErr != nil {
		return f.opErr
	}
	f.disabled = append(f.disabled, username)
	return nil
}

func (f *fakeDevice) AccountExists(ctx context.Context, username string) (bool, error) {
	if f.opErr != nil {
		return false, f.opErr
	}
	return f.existing[username], nil
}

func (f *fakeDevice) KickSession(ctx context.Context, sessionID string) error {
	f.kicked = append(f.kicked, sessionID)
	return nil
}

func newTestWorker(store *fakeStore, device *fakeDevice) *Worker {
	return NewWorker(store, device, 5*time.Second, time.Hour, 3)
}

func newJob(jobType models.JobType, payload models.JobPayload) *models.Job {
	return &models.Job{
		ID:          uuid.New(),
		Type:        jobType,
		State:       models.JobStateActive,
		Payload:     payload,
		Attempts:    1,
		MaxAttempts: 5,
	}
}

func TestWorker_CreateAccount(t *testing.T) {
	store := newFakeStore()
	device := newFakeDevice()
	w := newTestWorker(store, device)

	userID := uuid.New()
	job := newJob(models.JobCreateAccount, models.JobPayload{
		UserID:   userID,
		WsnID:    "wsn001",
		Password: "pw",
		Profile:  "premium",
	})

	w.process(context.Background(), job)

	assert.Equal(t, []string{"wsn001"}, device.added)
	assert.Equal(t, "pw", device.passwords["wsn001"])

	require.Len(t, store.syncUpdates[userID], 1)
	update := store.syncUpdates[userID][0]
	require.NotNil(t, update.RouterPassword)
	assert.Equal(t, "pw", *update.RouterPassword)
	require.NotNil(t, update.RouterProfile)
	assert.Equal(t, "premium", *update.RouterProfile)

	assert.Contains(t, store.completed, job.ID)
	require.Len(t, store.events, 1)
	assert.Equal(t, models.EventTypeJobCompleted, store.events[0].Type)
}

func TestWorker_CreateAccount_DefaultsProfile(t *testing.T) {
	store := newFakeStore()
	device := newFakeDevice()
	w := newTestWorker(store, device)

	userID := uuid.New()
	job := newJob(models.JobCreateAccount, models.JobPayload{
		UserID:   userID,
		WsnID:    "wsn001",
		Password: "pw",
	})

	w.process(context.Background(), job)

	assert.Equal(t, "default", device.setProf["wsn001"])
}

func TestWorker_UpdatePassword(t *testing.T) {
	store := newFakeStore()
	device := newFakeDevice()
	w := newTestWorker(store, device)

	userID := uuid.New()
	job := newJob(models.JobUpdatePassword, models.JobPayload{
		UserID:   userID,
		WsnID:    "wsn001",
		Password: "rotated",
	})

	w.process(context.Background(), job)

	assert.Equal(t, "rotated", device.passwords["wsn001"])

	require.Len(t, store.syncUpdates[userID], 1)
	update := store.syncUpdates[userID][0]
	require.NotNil(t, update.RouterPassword)
	assert.Equal(t, "rotated", *update.RouterPassword)
	assert.Nil(t, update.RouterProfile)
	assert.Nil(t, update.RouterDisabled)
}

func TestWorker_EnableDisable_TrackDesiredState(t *testing.T) {
	store := newFakeStore()
	device := newFakeDevice()
	w := newTestWorker(store, device)

	userID := uuid.New()

	w.process(context.Background(), newJob(models.JobDisableAccount, models.JobPayload{
		UserID: userID, WsnID: "wsn001",
	}))
	w.process(context.Background(), newJob(models.JobEnableAccount, models.JobPayload{
		UserID: userID, WsnID: "wsn001",
	}))

	assert.Equal(t, []string{"wsn001"}, device.disabled)
	assert.Equal(t, []string{"wsn001"}, device.enabled)

	require.Len(t, store.syncUpdates[userID], 2)
	require.NotNil(t, store.syncUpdates[userID][0].RouterDisabled)
	assert.True(t, *store.syncUpdates[userID][0].RouterDisabled)
	require.NotNil(t, store.syncUpdates[userID][1].RouterDisabled)
	assert.False(t, *store.syncUpdates[userID][1].RouterDisabled)
}

func TestWorker_EnsureAccount_CreatesWhenAbsent(t *testing.T) {
	store := newFakeStore()
	device := newFakeDevice()
	w := newTestWorker(store, device)

	job := newJob(models.JobEnsureAccount, models.JobPayload{
		UserID:   uuid.New(),
		WsnID:    "wsn001",
		Password: "pw",
	})

	w.process(context.Background(), job)

	assert.Equal(t, []string{"wsn001"}, device.added)
	assert.Contains(t, store.completed, job.ID)

	// The created flag survives in the completion event
	require.Len(t, store.events, 1)
	assert.Equal(t, true, store.events[0].Details["created"])
}

func TestWorker_EnsureAccount_IdempotentWhenPresent(t *testing.T) {
	store := newFakeStore()
	device := newFakeDevice()
	device.existing["wsn001"] = true
	w := newTestWorker(store, device)

	job := newJob(models.JobEnsureAccount, models.JobPayload{
		UserID:   uuid.New(),
		WsnID:    "wsn001",
		Password: "pw",
	})

	w.process(context.Background(), job)

	assert.Empty(t, device.added)
	assert.Contains(t, store.completed, job.ID)
	require.Len(t, store.events, 1)
	assert.Equal(t, false, store.events[0].Details["created"])
}

func TestWorker_RetriesWithExponentialBackoff(t *testing.T) {
	store := newFakeStore()
	device := newFakeDevice()
	device.opErr = errors.New("router unreachable")
	w := newTestWorker(store, device)

	job := newJob(models.JobCreateAccount, models.JobPayload{
		UserID: uuid.New(), WsnID: "wsn001", Password: "pw",
	})
	job.Attempts = 3

	before := time.Now()
	w.process(context.Background(), job)

	require.Len(t, store.rescheduled, 1)
	assert.Empty(t, store.failed)

	// attempt 3 of 5 waits base * 2^2
	wantDelay := 20 * time.Second
	gotDelay := job.NextRunAt.Sub(before)
	assert.InDelta(t, wantDelay.Seconds(), gotDelay.Seconds(), 1.0)
	require.NotNil(t, job.LastError)
	assert.Contains(t, *job.LastError, "router unreachable")

	require.Len(t, store.events, 1)
	assert.Equal(t, models.EventTypeJobRetried, store.events[0].Type)
}

func TestWorker_FirstRetryUsesBaseDelay(t *testing.T) {
	store := newFakeStore()
	device := newFakeDevice()
	device.opErr = errors.New("router unreachable")
	w := newTestWorker(store, device)

	job := newJob(models.JobCreateAccount, models.JobPayload{
		UserID: uuid.New(), WsnID: "wsn001",
	})

	before := time.Now()
	w.process(context.Background(), job)

	require.Len(t, store.rescheduled, 1)
	gotDelay := job.NextRunAt.Sub(before)
	assert.InDelta(t, (5 * time.Second).Seconds(), gotDelay.Seconds(), 1.0)
}

func TestWorker_ExhaustedAttemptsFailPermanently(t *testing.T) {
	store := newFakeStore()
	device := newFakeDevice()
	device.opErr = errors.New("account not found on device")
	w := newTestWorker(store, device)

	userID := uuid.New()
	job := newJob(models.JobUpdatePassword, models.JobPayload{
		UserID: userID, WsnID: "wsn001", Password: "pw",
	})
	job.Attempts = 5

	w.process(context.Background(), job)

	assert.Empty(t, store.rescheduled)
	require.Len(t, store.failed, 1)

	// Exhaustion flips the user's sync state with the final error
	assert.Contains(t, store.syncErrors[userID], "not found")

	require.Len(t, store.events, 1)
	assert.Equal(t, models.EventTypeJobFailed, store.events[0].Type)
	assert.Equal(t, models.EventLevelError, store.events[0].Level)
}

func TestWorker_UnknownJobTypeFailsWithoutRetry(t *testing.T) {
	store := newFakeStore()
	device := newFakeDevice()
	w := newTestWorker(store, device)

	job := newJob(models.JobType("bogus"), models.JobPayload{})

	w.process(context.Background(), job)

	assert.Empty(t, store.rescheduled)
	require.Len(t, store.failed, 1)
	require.NotNil(t, job.LastError)
	assert.Contains(t, *job.LastError, "unknown job type")
}

func TestWorker_RequeuesStalledJobsOnStartup(t *testing.T) {
	store := newFakeStore()
	device := newFakeDevice()
	w := newTestWorker(store, device)

	// A previous run claimed this job and died before finishing it
	orphan := newJob(models.JobCreateAccount, models.JobPayload{
		UserID: uuid.New(), WsnID: "wsn001", Password: "pw",
	})
	store.stalled = []*models.Job{orphan}

	w.recoverStalled(context.Background())
	w.drain(context.Background())

	assert.Equal(t, []string{"wsn001"}, device.added)
	assert.Contains(t, store.completed, orphan.ID)
	assert.Empty(t, store.stalled)
}

func TestWorker_ShutdownMidJobStillReschedules(t *testing.T) {
	store := newFakeStore()
	device := newFakeDevice()
	device.opErr = context.Canceled
	w := newTestWorker(store, device)

	job := newJob(models.JobCreateAccount, models.JobPayload{
		UserID: uuid.New(), WsnID: "wsn001", Password: "pw",
	})

	// Cancelling the run context mid-job fails the device call, but
	// the reschedule write must still land so the job is not stranded
	// in the active state.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.process(ctx, job)

	require.Len(t, store.rescheduled, 1)
	assert.Empty(t, store.failed)
}

func TestWorker_DrainProcessesAllDueJobs(t *testing.T) {
	store := newFakeStore()
	device := newFakeDevice()
	w := newTestWorker(store, device)

	first := newJob(models.JobCreateAccount, models.JobPayload{
		UserID: uuid.New(), WsnID: "wsn001", Password: "a",
	})
	second := newJob(models.JobCreateAccount, models.JobPayload{
		UserID: uuid.New(), WsnID: "wsn002", Password: "b",
	})
	first.Attempts = 0
	second.Attempts = 0
	store.dueJobs = []*models.Job{first, second}

	w.drain(context.Background())

	assert.Equal(t, []string{"wsn001", "wsn002"}, device.added)
	assert.Contains(t, store.completed, first.ID)
	assert.Contains(t, store.completed, second.ID)
}
