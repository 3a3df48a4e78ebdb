package distribution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Shipyard/internal/domain"
	"github.com/shaiso/Shipyard/internal/integrations"
	"github.com/shaiso/Shipyard/internal/integrations/fake"
	"github.com/shaiso/Shipyard/internal/lock"
	"github.com/shaiso/Shipyard/internal/repo/memory"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time           { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	engine *Engine
	store  *fake.Collaborators
	repos  domain.Repositories
	clock  *clock
	rel    *domain.Release
}

func newFixture(t *testing.T, cfg domain.DistributionConfig) (*fixture, *View) {
	t.Helper()
	repos := memory.New()
	store := fake.New()
	clk := &clock{t: time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC)}

	e := New(Config{
		Repo:   repos.Distributions,
		Store:  store,
		Locker: lock.NewLocal(),
		Now:    clk.Now,
	})

	rel := &domain.Release{
		ID:   uuid.New(),
		Code: "R-2026.10",
		Platforms: []domain.PlatformTarget{
			{Platform: domain.PlatformAndroid, Target: "PLAY_STORE", Version: "4.12.0"},
			{Platform: domain.PlatformIOS, Target: "APP_STORE", Version: "4.12.0"},
		},
	}

	view, err := e.Create(context.Background(), rel, cfg)
	require.NoError(t, err)
	return &fixture{engine: e, store: store, repos: repos, clock: clk, rel: rel}, view
}

func (f *fixture) submission(t *testing.T, v *View, p domain.Platform) domain.Submission {
	t.Helper()
	s, ok := v.Submission(p)
	require.True(t, ok, "no submission for %s", p)
	return s
}

// goLive отправляет submission и переводит её в LIVE событием стора.
func (f *fixture) goLive(t *testing.T, v *View, p domain.Platform, pct float64) domain.Submission {
	t.Helper()
	ctx := context.Background()
	s := f.submission(t, v, p)

	submitted, err := f.engine.Submit(ctx, v.Distribution.ID, s.ID, domain.SubmitRequest{Actor: "alice"})
	require.NoError(t, err)
	require.Equal(t, domain.SubmissionStatusInReview, submitted.Status)

	live, applied, err := f.engine.ApplyStoreStatus(ctx, submitted.StoreHandle, integrations.StoreStatus{
		Status:         domain.SubmissionStatusLive,
		RolloutPercent: pct,
	})
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, domain.SubmissionStatusLive, live.Status)
	return *live
}

func TestCreate(t *testing.T) {
	f, view := newFixture(t, domain.DistributionConfig{AndroidInitialRollout: 5})

	assert.Equal(t, domain.DistributionStatusPending, view.Status)
	require.Len(t, view.Submissions, 2)

	android := f.submission(t, view, domain.PlatformAndroid)
	assert.Equal(t, domain.ReleaseModeStaged, android.ReleaseMode)
	assert.Equal(t, 5.0, android.RolloutPercent)
	assert.Equal(t, "4.12.0", android.Version)

	ios := f.submission(t, view, domain.PlatformIOS)
	assert.Equal(t, domain.ReleaseModePhased, ios.ReleaseMode)
	require.Len(t, ios.History, 1)
	assert.Equal(t, domain.ActionCreated, ios.History[0].Action)

	again, err := f.engine.Create(context.Background(), f.rel, domain.DistributionConfig{})
	require.NoError(t, err)
	assert.Equal(t, view.Distribution.ID, again.Distribution.ID)
}

func TestCreate_ManualMode(t *testing.T) {
	f, view := newFixture(t, domain.DistributionConfig{IOSReleaseMode: domain.ReleaseModeManual})
	assert.Equal(t, domain.ReleaseModeManual, f.submission(t, view, domain.PlatformIOS).ReleaseMode)
}

func TestSubmit_StatusProgression(t *testing.T) {
	ctx := context.Background()
	f, view := newFixture(t, domain.DistributionConfig{})
	distID := view.Distribution.ID

	android := f.submission(t, view, domain.PlatformAndroid)
	s, err := f.engine.Submit(ctx, distID, android.ID, domain.SubmitRequest{
		BuildNumber: "412",
		ArtifactRef: "s3://builds/412.aab",
		Actor:       "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionStatusInReview, s.Status)
	assert.NotEmpty(t, s.StoreHandle)
	assert.Equal(t, "alice", s.SubmittedBy)

	got, err := f.engine.Get(ctx, f.rel.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DistributionStatusPartiallySubmitted, got.Status)

	// Повторная отправка той же submission — конфликт.
	_, err = f.engine.Submit(ctx, distID, android.ID, domain.SubmitRequest{})
	assert.ErrorIs(t, err, domain.ErrConflict)

	ios := f.submission(t, view, domain.PlatformIOS)
	_, err = f.engine.Submit(ctx, distID, ios.ID, domain.SubmitRequest{Version: "4.12.0-ios"})
	require.NoError(t, err)

	got, err = f.engine.Get(ctx, f.rel.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DistributionStatusSubmitted, got.Status)

	approved, applied, err := f.engine.ApplyStoreStatus(ctx, s.StoreHandle, integrations.StoreStatus{Status: domain.SubmissionStatusApproved})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, domain.SubmissionStatusApproved, approved.Status)

	// Повторная доставка того же события ничего не меняет.
	_, applied, err = f.engine.ApplyStoreStatus(ctx, s.StoreHandle, integrations.StoreStatus{Status: domain.SubmissionStatusApproved})
	require.NoError(t, err)
	assert.False(t, applied)

	live, applied, err := f.engine.ApplyStoreStatus(ctx, s.StoreHandle, integrations.StoreStatus{Status: domain.SubmissionStatusLive, RolloutPercent: 10})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, domain.SubmissionStatusLive, live.Status)
	assert.Equal(t, 10.0, live.RolloutPercent)
	require.NotNil(t, live.LiveAt)

	got, err = f.engine.Get(ctx, f.rel.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DistributionStatusPartiallyReleased, got.Status)
}

func TestSubmit_VersionConflict(t *testing.T) {
	ctx := context.Background()
	f, view := newFixture(t, domain.DistributionConfig{})
	android := f.submission(t, view, domain.PlatformAndroid)

	f.store.AddStoreVersion(domain.PlatformAndroid, "4.12.0", integrations.StoreVersion{
		Handle: "existing-1",
		Status: domain.SubmissionStatusInReview,
	})

	_, err := f.engine.Submit(ctx, view.Distribution.ID, android.ID, domain.SubmitRequest{})
	require.Error(t, err)

	var conflict *domain.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, []string{"USE_EXISTING", "INCREMENT_AND_RETRY"}, conflict.Options)
	assert.Equal(t, 0, f.store.Count("Submit"), "engine must not auto-resolve")

	unchanged, err := f.repos.Distributions.GetSubmission(ctx, android.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionStatusPending, unchanged.Status)

	t.Run("increment and retry", func(t *testing.T) {
		s, err := f.engine.Submit(ctx, view.Distribution.ID, android.ID, domain.SubmitRequest{
			Resolution: domain.ResolutionIncrementAndRetry,
		})
		require.NoError(t, err)
		assert.Equal(t, "4.12.1", s.Version)
		assert.Equal(t, domain.SubmissionStatusInReview, s.Status)
		assert.Equal(t, 1, f.store.Count("Submit"))
	})
}

func TestSubmit_UseExisting(t *testing.T) {
	ctx := context.Background()
	f, view := newFixture(t, domain.DistributionConfig{})
	ios := f.submission(t, view, domain.PlatformIOS)

	f.store.AddStoreVersion(domain.PlatformIOS, "4.12.0", integrations.StoreVersion{
		Handle: "existing-ios",
		Status: domain.SubmissionStatusApproved,
	})

	s, err := f.engine.Submit(ctx, view.Distribution.ID, ios.ID, domain.SubmitRequest{
		Resolution: domain.ResolutionUseExisting,
	})
	require.NoError(t, err)
	assert.Equal(t, "existing-ios", s.StoreHandle)
	assert.Equal(t, domain.SubmissionStatusApproved, s.Status)
	assert.Equal(t, 0, f.store.Count("Submit"))
}

func TestSubmit_StoreRejects(t *testing.T) {
	ctx := context.Background()
	f, view := newFixture(t, domain.DistributionConfig{})
	android := f.submission(t, view, domain.PlatformAndroid)

	f.store.Fail("Submit", integrations.ErrRejected)
	s, err := f.engine.Submit(ctx, view.Distribution.ID, android.ID, domain.SubmitRequest{})
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionStatusRejected, s.Status)
}

func TestSubmit_TransientStoreError(t *testing.T) {
	ctx := context.Background()
	f, view := newFixture(t, domain.DistributionConfig{})
	android := f.submission(t, view, domain.PlatformAndroid)

	f.store.Fail("Submit", integrations.ErrCollaborator)
	_, err := f.engine.Submit(ctx, view.Distribution.ID, android.ID, domain.SubmitRequest{})
	require.ErrorIs(t, err, integrations.ErrCollaborator)

	stored, err := f.repos.Distributions.GetSubmission(ctx, android.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionStatusPending, stored.Status)
}

func TestAndroidRollout_MonotonicNonDecrease(t *testing.T) {
	ctx := context.Background()
	f, view := newFixture(t, domain.DistributionConfig{})
	live := f.goLive(t, view, domain.PlatformAndroid, 25)
	distID := view.Distribution.ID

	_, err := f.engine.UpdateRollout(ctx, distID, live.ID, 10, "alice")
	require.ErrorIs(t, err, domain.ErrConflict)

	stored, err := f.repos.Distributions.GetSubmission(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, 25.0, stored.RolloutPercent)
	assert.Equal(t, domain.SubmissionStatusLive, stored.Status)

	updated, err := f.engine.UpdateRollout(ctx, distID, live.ID, 50, "alice")
	require.NoError(t, err)
	assert.Equal(t, 50.0, updated.RolloutPercent)
	assert.Equal(t, domain.SubmissionStatusLive, updated.Status)

	same, err := f.engine.UpdateRollout(ctx, distID, live.ID, 50, "alice")
	require.NoError(t, err)
	assert.Equal(t, 50.0, same.RolloutPercent)

	fractional, err := f.engine.UpdateRollout(ctx, distID, live.ID, 50.5, "alice")
	require.NoError(t, err)
	assert.Equal(t, 50.5, fractional.RolloutPercent)

	_, err = f.engine.UpdateRollout(ctx, distID, live.ID, 101, "alice")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestAndroid_NoPause(t *testing.T) {
	ctx := context.Background()
	f, view := newFixture(t, domain.DistributionConfig{})
	live := f.goLive(t, view, domain.PlatformAndroid, 20)

	_, err := f.engine.Pause(ctx, view.Distribution.ID, live.ID, "alice", "crash spike")
	assert.ErrorIs(t, err, domain.ErrConflict)

	halted, err := f.engine.Halt(ctx, view.Distribution.ID, live.ID, "alice", "crash spike")
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionStatusHalted, halted.Status)

	_, err = f.engine.UpdateRollout(ctx, view.Distribution.ID, live.ID, 50, "alice")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestPhased_OnlyJumpTo100(t *testing.T) {
	ctx := context.Background()
	f, view := newFixture(t, domain.DistributionConfig{})
	live := f.goLive(t, view, domain.PlatformIOS, 0)
	assert.Equal(t, 1.0, live.RolloutPercent)

	for _, pct := range []float64{2, 50, 99.9} {
		_, err := f.engine.UpdateRollout(ctx, view.Distribution.ID, live.ID, pct, "alice")
		assert.ErrorIs(t, err, domain.ErrConflict, "percent %v", pct)
	}

	full, err := f.engine.UpdateRollout(ctx, view.Distribution.ID, live.ID, 100, "alice")
	require.NoError(t, err)
	assert.Equal(t, 100.0, full.RolloutPercent)
}

func TestPhased_PauseResume(t *testing.T) {
	ctx := context.Background()
	f, view := newFixture(t, domain.DistributionConfig{})
	live := f.goLive(t, view, domain.PlatformIOS, 0)
	distID := view.Distribution.ID

	_, err := f.engine.Resume(ctx, distID, live.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrConflict, "resume of a LIVE submission is a conflict")

	f.clock.Advance(24 * time.Hour)
	paused, err := f.engine.Pause(ctx, distID, live.ID, "alice", "investigating")
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionStatusPaused, paused.Status)

	// Пауза не меняет процент.
	f.clock.Advance(3 * 24 * time.Hour)
	resumed, err := f.engine.Resume(ctx, distID, live.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionStatusLive, resumed.Status)
	assert.Equal(t, 3*24*time.Hour, resumed.PhasedPausedFor)
	assert.Equal(t, 1.0, resumed.RolloutPercent)
}

func TestPhased_PercentComesFromStore(t *testing.T) {
	ctx := context.Background()
	f, view := newFixture(t, domain.DistributionConfig{})
	ios := f.goLive(t, view, domain.PlatformIOS, 0)
	android := f.goLive(t, view, domain.PlatformAndroid, 100)
	f.store.SetStoreStatus(ios.StoreHandle, integrations.StoreStatus{Status: domain.SubmissionStatusLive, RolloutPercent: 1})
	f.store.SetStoreStatus(android.StoreHandle, integrations.StoreStatus{Status: domain.SubmissionStatusLive, RolloutPercent: 100})

	// Время само по себе процент не двигает.
	f.clock.Advance(7 * 24 * time.Hour)
	synced, err := f.engine.Sync(ctx, f.rel.ID)
	require.NoError(t, err)
	got, _ := synced.Submission(domain.PlatformIOS)
	assert.Equal(t, 1.0, got.RolloutPercent)
	assert.Equal(t, domain.DistributionStatusPartiallyReleased, synced.Status)

	f.store.SetStoreStatus(ios.StoreHandle, integrations.StoreStatus{Status: domain.SubmissionStatusLive, RolloutPercent: 10})
	synced, err = f.engine.Sync(ctx, f.rel.ID)
	require.NoError(t, err)
	got, _ = synced.Submission(domain.PlatformIOS)
	assert.Equal(t, 10.0, got.RolloutPercent)

	f.store.SetStoreStatus(ios.StoreHandle, integrations.StoreStatus{Status: domain.SubmissionStatusLive, RolloutPercent: 100})
	synced, err = f.engine.Sync(ctx, f.rel.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DistributionStatusReleased, synced.Status)
}

func TestSync_PollsStore(t *testing.T) {
	ctx := context.Background()
	f, view := newFixture(t, domain.DistributionConfig{})
	android := f.submission(t, view, domain.PlatformAndroid)

	s, err := f.engine.Submit(ctx, view.Distribution.ID, android.ID, domain.SubmitRequest{})
	require.NoError(t, err)

	f.store.SetStoreStatus(s.StoreHandle, integrations.StoreStatus{Status: domain.SubmissionStatusApproved})
	synced, err := f.engine.Sync(ctx, f.rel.ID)
	require.NoError(t, err)
	got, _ := synced.Submission(domain.PlatformAndroid)
	assert.Equal(t, domain.SubmissionStatusApproved, got.Status)
}

func TestManual_RolloutAndPauseConflict(t *testing.T) {
	ctx := context.Background()
	f, view := newFixture(t, domain.DistributionConfig{IOSReleaseMode: domain.ReleaseModeManual})
	live := f.goLive(t, view, domain.PlatformIOS, 0)
	assert.Equal(t, 100.0, live.RolloutPercent)

	_, err := f.engine.UpdateRollout(ctx, view.Distribution.ID, live.ID, 100, "alice")
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = f.engine.Pause(ctx, view.Distribution.ID, live.ID, "alice", "")
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = f.engine.Resume(ctx, view.Distribution.ID, live.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestReleasedIsTerminal(t *testing.T) {
	ctx := context.Background()
	f, view := newFixture(t, domain.DistributionConfig{IOSReleaseMode: domain.ReleaseModeManual})
	android := f.goLive(t, view, domain.PlatformAndroid, 100)
	f.goLive(t, view, domain.PlatformIOS, 0)

	got, err := f.engine.Get(ctx, f.rel.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DistributionStatusReleased, got.Status)

	_, err = f.engine.Halt(ctx, view.Distribution.ID, android.ID, "alice", "")
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err = f.engine.Get(ctx, f.rel.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DistributionStatusReleased, got.Status)
}

func TestResubmit_AfterRejection(t *testing.T) {
	ctx := context.Background()
	f, view := newFixture(t, domain.DistributionConfig{})
	distID := view.Distribution.ID
	android := f.submission(t, view, domain.PlatformAndroid)

	_, err := f.engine.Resubmit(ctx, distID, domain.PlatformAndroid, domain.SubmitRequest{})
	require.ErrorIs(t, err, domain.ErrConflict, "resubmission from PENDING is a conflict")

	submitted, err := f.engine.Submit(ctx, distID, android.ID, domain.SubmitRequest{ArtifactRef: "build-1"})
	require.NoError(t, err)
	rejected, applied, err := f.engine.ApplyStoreStatus(ctx, submitted.StoreHandle, integrations.StoreStatus{
		Status: domain.SubmissionStatusRejected,
		Reason: "metadata rejected",
	})
	require.NoError(t, err)
	require.True(t, applied)

	next, err := f.engine.Resubmit(ctx, distID, domain.PlatformAndroid, domain.SubmitRequest{
		ArtifactRef: "build-2",
		Actor:       "bob",
	})
	require.NoError(t, err)
	assert.NotEqual(t, rejected.ID, next.ID)
	assert.Equal(t, domain.SubmissionStatusInReview, next.Status)
	assert.Equal(t, "build-2", next.ArtifactRef)
	assert.Equal(t, "4.12.0", next.Version, "same version is allowed for the rejected handle")

	old, err := f.repos.Distributions.GetSubmission(ctx, rejected.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionStatusRejected, old.Status)
	assert.Equal(t, rejected.History, old.History)
	assert.Equal(t, rejected.StoreHandle, old.StoreHandle)
	assert.Equal(t, "build-1", old.ArtifactRef)
	require.NotNil(t, old.SupersededBy)
	assert.Equal(t, next.ID, *old.SupersededBy)

	current, err := f.engine.Get(ctx, f.rel.ID)
	require.NoError(t, err)
	cur, _ := current.Submission(domain.PlatformAndroid)
	assert.Equal(t, next.ID, cur.ID)
	assert.Len(t, current.Submissions, 2)

	history, err := f.engine.History(ctx, f.rel.ID)
	require.NoError(t, err)
	assert.Len(t, history, 3)

	// Старую submission больше нельзя отправить.
	_, err = f.engine.Submit(ctx, distID, rejected.ID, domain.SubmitRequest{})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	f, view := newFixture(t, domain.DistributionConfig{})
	ios := f.submission(t, view, domain.PlatformIOS)

	_, err := f.engine.Cancel(ctx, view.Distribution.ID, ios.ID, "alice", "")
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = f.engine.Submit(ctx, view.Distribution.ID, ios.ID, domain.SubmitRequest{})
	require.NoError(t, err)
	cancelled, err := f.engine.Cancel(ctx, view.Distribution.ID, ios.ID, "alice", "wrong build")
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionStatusCancelled, cancelled.Status)
	assert.Equal(t, 1, f.store.Count("Cancel"))

	next, err := f.engine.Resubmit(ctx, view.Distribution.ID, domain.PlatformIOS, domain.SubmitRequest{})
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionStatusInReview, next.Status)
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	f, view := newFixture(t, domain.DistributionConfig{})

	_, err := f.engine.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrDistributionNotFound)

	_, err = f.engine.UpdateRollout(ctx, view.Distribution.ID, uuid.New(), 50, "alice")
	assert.ErrorIs(t, err, ErrSubmissionNotFound)

	_, _, err = f.engine.ApplyStoreStatus(ctx, "unknown", integrations.StoreStatus{Status: domain.SubmissionStatusLive})
	assert.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestHalt_KeepsPartiallyReleased(t *testing.T) {
	ctx := context.Background()
	f, view := newFixture(t, domain.DistributionConfig{})
	distID := view.Distribution.ID

	android := f.goLive(t, view, domain.PlatformAndroid, 30)
	ios := f.submission(t, view, domain.PlatformIOS)
	_, err := f.engine.Submit(ctx, distID, ios.ID, domain.SubmitRequest{Actor: "alice"})
	require.NoError(t, err)

	got, err := f.engine.Get(ctx, f.rel.ID)
	require.NoError(t, err)
	require.Equal(t, domain.DistributionStatusPartiallyReleased, got.Status)

	halted, err := f.engine.Halt(ctx, distID, android.ID, "bob", "crash spike")
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionStatusHalted, halted.Status)

	got, err = f.engine.Get(ctx, f.rel.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DistributionStatusPartiallyReleased, got.Status)
}
