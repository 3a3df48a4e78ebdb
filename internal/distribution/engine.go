package distribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Shipyard/internal/domain"
	"github.com/shaiso/Shipyard/internal/integrations"
	"github.com/shaiso/Shipyard/internal/lock"
	"github.com/shaiso/Shipyard/internal/telemetry"
)

// Actor'ы записей журнала, которые пишет сам движок.
const (
	ActorSystem = "system"
	ActorStore  = "store"
)

// phasedInitialPercent — процент phased release в момент выхода в LIVE,
// если стор не сообщил свой.
const phasedInitialPercent = 1.0

// maxIncrements — сколько раз INCREMENT_AND_RETRY поднимает версию в поисках свободной.
const maxIncrements = 20

// View — дистрибуция с текущими submissions и вычисленным статусом.
type View struct {
	Distribution domain.Distribution      `json:"distribution"`
	Status       domain.DistributionStatus `json:"status"`
	Submissions  []domain.Submission       `json:"submissions"`
}

// Submission возвращает текущую submission платформы.
func (v *View) Submission(p domain.Platform) (domain.Submission, bool) {
	for _, s := range v.Submissions {
		if s.Platform == p {
			return s, true
		}
	}
	return domain.Submission{}, false
}

// Engine — движок выкатки.
type Engine struct {
	repo   domain.DistributionRepository
	store  integrations.Store
	locker lock.Locker
	logger *slog.Logger
	now    func() time.Time
}

// Config — конфигурация Engine.
type Config struct {
	Repo  domain.DistributionRepository
	Store integrations.Store

	// Locker — блокировка релиза для команд и событий стора.
	// Create и Sync вызываются из тика, который уже держит блокировку.
	Locker lock.Locker

	Logger *slog.Logger
	Now    func() time.Time
}

// New создаёт Engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		repo:   cfg.Repo,
		store:  cfg.Store,
		locker: cfg.Locker,
		logger: logger,
		now:    now,
	}
}

// Create создаёт дистрибуцию релиза с одной submission на платформу.
// Повторный вызов возвращает уже существующую дистрибуцию.
func (e *Engine) Create(ctx context.Context, rel *domain.Release, cfg domain.DistributionConfig) (*View, error) {
	existing, err := e.repo.GetByReleaseID(ctx, rel.ID)
	if err == nil {
		return e.view(ctx, existing)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("get distribution: %w", err)
	}
	if len(rel.Platforms) == 0 {
		return nil, fmt.Errorf("%w: release %s has no platforms", domain.ErrInvalidArgument, rel.Code)
	}

	now := e.now()
	d := &domain.Distribution{
		ID:        uuid.New(),
		ReleaseID: rel.ID,
		Platforms: rel.PlatformList(),
		CreatedAt: now,
	}

	subs := make([]domain.Submission, 0, len(rel.Platforms))
	for _, t := range rel.Platforms {
		s := domain.Submission{
			ID:             uuid.New(),
			DistributionID: d.ID,
			Platform:       t.Platform,
			ReleaseMode:    releaseMode(t.Platform, cfg),
			Status:         domain.SubmissionStatusPending,
			Version:        t.Version,
			CreatedAt:      now,
		}
		if t.Platform == domain.PlatformAndroid {
			s.RolloutPercent = clampPercent(cfg.AndroidInitialRollout)
		}
		s.Record(domain.ActionCreated, ActorSystem, "", now)
		subs = append(subs, s)
	}

	if err := e.repo.Create(ctx, d, subs); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			existing, err := e.repo.GetByReleaseID(ctx, rel.ID)
			if err != nil {
				return nil, fmt.Errorf("get distribution: %w", err)
			}
			return e.view(ctx, existing)
		}
		return nil, fmt.Errorf("create distribution: %w", err)
	}

	e.logger.Info("distribution created",
		"release_id", rel.ID,
		"distribution_id", d.ID,
		"platforms", d.Platforms,
	)
	return &View{Distribution: *d, Status: domain.DistributionStatusPending, Submissions: subs}, nil
}

func releaseMode(p domain.Platform, cfg domain.DistributionConfig) domain.ReleaseMode {
	if p == domain.PlatformAndroid {
		return domain.ReleaseModeStaged
	}
	if cfg.IOSReleaseMode == domain.ReleaseModeManual {
		return domain.ReleaseModeManual
	}
	return domain.ReleaseModePhased
}

// Get возвращает дистрибуцию релиза.
func (e *Engine) Get(ctx context.Context, releaseID uuid.UUID) (*View, error) {
	d, err := e.byRelease(ctx, releaseID)
	if err != nil {
		return nil, err
	}
	return e.view(ctx, d)
}

// Lookup возвращает дистрибуцию по её id.
func (e *Engine) Lookup(ctx context.Context, distID uuid.UUID) (*domain.Distribution, error) {
	d, err := e.repo.GetByID(ctx, distID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDistributionNotFound, distID)
		}
		return nil, fmt.Errorf("get distribution: %w", err)
	}
	return d, nil
}

// History возвращает все submissions дистрибуции, включая заменённые.
func (e *Engine) History(ctx context.Context, releaseID uuid.UUID) ([]domain.Submission, error) {
	d, err := e.byRelease(ctx, releaseID)
	if err != nil {
		return nil, err
	}
	subs, err := e.repo.ListSubmissions(ctx, d.ID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return subs, nil
}

// Submit отправляет PENDING submission в стор.
//
// Если версия уже есть в сторе и не финальна, возвращается ConflictError
// с вариантами USE_EXISTING и INCREMENT_AND_RETRY. Вызывающий повторяет
// запрос с выбранным Resolution.
func (e *Engine) Submit(ctx context.Context, distID, subID uuid.UUID, req domain.SubmitRequest) (*domain.Submission, error) {
	return e.mutate(ctx, distID, subID, func(d *domain.Distribution, s *domain.Submission, now time.Time) error {
		if !s.IsCurrent() {
			return domain.Conflict("submission was superseded by a resubmission")
		}
		if s.Status != domain.SubmissionStatusPending {
			return domain.Conflict(fmt.Sprintf("submission is %s, expected PENDING", s.Status))
		}
		return e.submit(ctx, s, req, "", now)
	})
}

// submit проверяет версию и отправляет s в стор.
// skipHandle — handle, совпадение с которым не считается конфликтом.
func (e *Engine) submit(ctx context.Context, s *domain.Submission, req domain.SubmitRequest, skipHandle string, now time.Time) error {
	if e.store == nil {
		return ErrStoreNotConfigured
	}

	version := req.Version
	if version == "" {
		version = s.Version
	}
	if version == "" {
		return fmt.Errorf("%w: version is required", domain.ErrInvalidArgument)
	}

	existing, found, version, err := e.resolveVersion(ctx, s.Platform, version, req.Resolution, skipHandle)
	if err != nil {
		return err
	}

	s.Version = version
	if req.BuildNumber != "" {
		s.BuildNumber = req.BuildNumber
	}
	if req.ArtifactRef != "" {
		s.ArtifactRef = req.ArtifactRef
	}
	if req.ReleaseNotes != "" {
		s.ReleaseNotes = req.ReleaseNotes
	}
	actor := req.Actor
	if actor == "" {
		actor = ActorSystem
	}

	if found {
		// USE_EXISTING: привязываемся к версии стора без новой отправки.
		e.markSubmitted(s, existing.Handle, actor, "attached to existing store version", now)
		e.apply(s, integrations.StoreStatus{Status: existing.Status}, now)
		return nil
	}

	handle, err := e.store.Submit(ctx, integrations.StoreSubmission{
		Platform:     s.Platform,
		ReleaseMode:  s.ReleaseMode,
		Version:      s.Version,
		BuildNumber:  s.BuildNumber,
		ArtifactRef:  s.ArtifactRef,
		ReleaseNotes: s.ReleaseNotes,
	})
	if errors.Is(err, integrations.ErrRejected) {
		s.SubmittedBy = actor
		s.SubmittedAt = &now
		s.Status = domain.SubmissionStatusRejected
		e.record(s, domain.ActionRejected, ActorStore, err.Error(), now)
		return nil
	}
	if err != nil {
		return fmt.Errorf("store submit: %w", err)
	}

	e.markSubmitted(s, handle, actor, "", now)
	return nil
}

// resolveVersion ищет свободную версию.
// found=true означает, что выбран USE_EXISTING и нужно привязаться к existing.
func (e *Engine) resolveVersion(ctx context.Context, platform domain.Platform, version string, res domain.Resolution, skipHandle string) (existing integrations.StoreVersion, found bool, resolved string, err error) {
	for i := 0; i <= maxIncrements; i++ {
		v, ok, err := e.store.LookupVersion(ctx, platform, version)
		if err != nil {
			return integrations.StoreVersion{}, false, "", fmt.Errorf("lookup version: %w", err)
		}
		if !ok || v.Status.IsTerminal() || (skipHandle != "" && v.Handle == skipHandle) {
			return integrations.StoreVersion{}, false, version, nil
		}

		switch res {
		case domain.ResolutionUseExisting:
			return v, true, version, nil
		case domain.ResolutionIncrementAndRetry:
			next, err := IncrementVersion(version)
			if err != nil {
				return integrations.StoreVersion{}, false, "", err
			}
			version = next
		default:
			return integrations.StoreVersion{}, false, "", &domain.ConflictError{
				Reason: fmt.Sprintf("version %s already exists in %s store (%s)", version, platform, v.Status),
				Options: []string{
					string(domain.ResolutionUseExisting),
					string(domain.ResolutionIncrementAndRetry),
				},
			}
		}
	}
	return integrations.StoreVersion{}, false, "", domain.Conflict(fmt.Sprintf("no free version after %d increments", maxIncrements))
}

// IncrementVersion увеличивает последний числовой сегмент версии: "4.12.0" → "4.12.1".
func IncrementVersion(version string) (string, error) {
	parts := strings.Split(version, ".")
	last := parts[len(parts)-1]
	n, err := strconv.Atoi(last)
	if err != nil {
		return "", fmt.Errorf("%w: cannot increment version %q", domain.ErrInvalidArgument, version)
	}
	parts[len(parts)-1] = strconv.Itoa(n + 1)
	return strings.Join(parts, "."), nil
}

func (e *Engine) markSubmitted(s *domain.Submission, handle, actor, reason string, now time.Time) {
	s.StoreHandle = handle
	s.SubmittedBy = actor
	s.SubmittedAt = &now
	s.Status = domain.SubmissionStatusInReview
	e.record(s, domain.ActionSubmitted, actor, reason, now)
}

// ApplyStoreStatus применяет состояние, сообщённое стором (webhook или опрос).
//
// Повторная доставка и недопустимые переходы ничего не меняют: applied=false.
func (e *Engine) ApplyStoreStatus(ctx context.Context, handle string, st integrations.StoreStatus) (*domain.Submission, bool, error) {
	found, err := e.repo.GetSubmissionByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, false, fmt.Errorf("%w: handle %s", ErrSubmissionNotFound, handle)
		}
		return nil, false, fmt.Errorf("get submission: %w", err)
	}

	var applied bool
	s, err := e.mutate(ctx, found.DistributionID, found.ID, func(_ *domain.Distribution, s *domain.Submission, now time.Time) error {
		if !s.IsCurrent() {
			return errNoChange
		}
		applied = e.apply(s, st, now)
		if !applied {
			return errNoChange
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return s, applied, nil
}

// apply переводит submission по событию стора. Возвращает false, если переход недопустим.
func (e *Engine) apply(s *domain.Submission, st integrations.StoreStatus, now time.Time) bool {
	switch st.Status {
	case domain.SubmissionStatusApproved:
		if s.Status != domain.SubmissionStatusInReview {
			return false
		}
		s.Status = domain.SubmissionStatusApproved
		e.record(s, domain.ActionApproved, ActorStore, st.Reason, now)
		return true

	case domain.SubmissionStatusLive:
		switch s.Status {
		case domain.SubmissionStatusInReview, domain.SubmissionStatusApproved:
		case domain.SubmissionStatusLive:
			// Стор сообщил больший процент staged или phased rollout.
			if s.ReleaseMode == domain.ReleaseModeManual || st.RolloutPercent <= s.RolloutPercent {
				return false
			}
			s.RolloutPercent = clampPercent(st.RolloutPercent)
			e.record(s, domain.ActionRolloutUpdate, ActorStore, formatPercent(s.RolloutPercent), now)
			return true
		default:
			return false
		}
		s.Status = domain.SubmissionStatusLive
		s.LiveAt = &now
		switch s.ReleaseMode {
		case domain.ReleaseModeManual:
			s.RolloutPercent = 100
		case domain.ReleaseModePhased:
			s.RolloutPercent = clampPercent(math.Max(phasedInitialPercent, st.RolloutPercent))
		default:
			s.RolloutPercent = clampPercent(math.Max(s.RolloutPercent, st.RolloutPercent))
		}
		e.record(s, domain.ActionLive, ActorStore, formatPercent(s.RolloutPercent), now)
		return true

	case domain.SubmissionStatusRejected:
		if s.Status != domain.SubmissionStatusInReview && s.Status != domain.SubmissionStatusApproved {
			return false
		}
		s.Status = domain.SubmissionStatusRejected
		e.record(s, domain.ActionRejected, ActorStore, st.Reason, now)
		return true
	}
	return false
}

// Sync опрашивает стор по текущим submissions и применяет их статус:
// решение ревью, выход в LIVE, новый процент выкатки.
// Это явная команда (API, CLI). Тик оркестратора её не вызывает.
func (e *Engine) Sync(ctx context.Context, releaseID uuid.UUID) (*View, error) {
	d, err := e.byRelease(ctx, releaseID)
	if err != nil {
		return nil, err
	}
	if e.store == nil {
		return nil, ErrStoreNotConfigured
	}

	var view *View
	err = e.withLock(ctx, releaseID, func(ctx context.Context) error {
		subs, err := e.repo.ListSubmissions(ctx, d.ID)
		if err != nil {
			return fmt.Errorf("list submissions: %w", err)
		}

		now := e.now()
		for i := range subs {
			s := &subs[i]
			if !s.IsCurrent() || !needsPoll(s) {
				continue
			}
			st, err := e.store.Status(ctx, s.Platform, s.StoreHandle)
			if err != nil {
				e.logger.Warn("store status poll failed",
					"release_id", releaseID,
					"submission_id", s.ID,
					"error", err,
				)
				continue
			}
			if !e.apply(s, st, now) {
				continue
			}
			if err := e.repo.UpdateSubmission(ctx, s); err != nil {
				return fmt.Errorf("update submission: %w", err)
			}
		}
		view = &View{Distribution: *d, Status: DeriveStatus(subs), Submissions: Current(subs)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// needsPoll — у стора может быть новость по submission.
func needsPoll(s *domain.Submission) bool {
	if s.StoreHandle == "" {
		return false
	}
	switch s.Status {
	case domain.SubmissionStatusInReview, domain.SubmissionStatusApproved:
		return true
	case domain.SubmissionStatusLive:
		return s.ReleaseMode != domain.ReleaseModeManual && s.RolloutPercent < 100
	}
	return false
}

// UpdateRollout меняет процент выкатки.
//
// Android: только в LIVE, только не меньше текущего.
// iOS phased: только 100. iOS manual: всегда конфликт.
func (e *Engine) UpdateRollout(ctx context.Context, distID, subID uuid.UUID, percent float64, actor string) (*domain.Submission, error) {
	if math.IsNaN(percent) || percent < 0 || percent > 100 {
		return nil, fmt.Errorf("%w: rollout percent must be within [0, 100], got %v", domain.ErrInvalidArgument, percent)
	}
	return e.mutate(ctx, distID, subID, func(_ *domain.Distribution, s *domain.Submission, now time.Time) error {
		switch s.ReleaseMode {
		case domain.ReleaseModeManual:
			return domain.Conflict("manual release has no rollout to update")
		case domain.ReleaseModePhased:
			if percent != 100 {
				return domain.Conflict("phased release can only be completed to 100%")
			}
		}
		if s.Status != domain.SubmissionStatusLive {
			return domain.Conflict(fmt.Sprintf("rollout can only be updated while LIVE, submission is %s", s.Status))
		}
		if percent < s.RolloutPercent {
			return domain.Conflict(fmt.Sprintf("rollout cannot decrease from %s to %s",
				formatPercent(s.RolloutPercent), formatPercent(percent)))
		}
		if percent == s.RolloutPercent {
			return errNoChange
		}
		if err := e.storeCall(ctx, func(st integrations.Store) error {
			return st.UpdateRollout(ctx, s.Platform, s.StoreHandle, percent)
		}); err != nil {
			return err
		}
		s.RolloutPercent = percent
		e.record(s, domain.ActionRolloutUpdate, actor, formatPercent(percent), now)
		return nil
	})
}

// Pause ставит phased release на паузу: LIVE → PAUSED.
func (e *Engine) Pause(ctx context.Context, distID, subID uuid.UUID, actor, reason string) (*domain.Submission, error) {
	return e.mutate(ctx, distID, subID, func(_ *domain.Distribution, s *domain.Submission, now time.Time) error {
		if s.ReleaseMode != domain.ReleaseModePhased {
			return domain.Conflict(fmt.Sprintf("%s release cannot be paused", s.ReleaseMode))
		}
		if s.Status != domain.SubmissionStatusLive {
			return domain.Conflict(fmt.Sprintf("only LIVE submission can be paused, submission is %s", s.Status))
		}
		if err := e.storeCall(ctx, func(st integrations.Store) error {
			return st.Pause(ctx, s.Platform, s.StoreHandle)
		}); err != nil {
			return err
		}
		s.Status = domain.SubmissionStatusPaused
		s.PausedAt = &now
		e.record(s, domain.ActionPaused, actor, reason, now)
		return nil
	})
}

// Resume возобновляет phased release: PAUSED → LIVE.
func (e *Engine) Resume(ctx context.Context, distID, subID uuid.UUID, actor string) (*domain.Submission, error) {
	return e.mutate(ctx, distID, subID, func(_ *domain.Distribution, s *domain.Submission, now time.Time) error {
		if s.ReleaseMode != domain.ReleaseModePhased {
			return domain.Conflict(fmt.Sprintf("%s release cannot be resumed", s.ReleaseMode))
		}
		if s.Status != domain.SubmissionStatusPaused {
			return domain.Conflict(fmt.Sprintf("only PAUSED submission can be resumed, submission is %s", s.Status))
		}
		if err := e.storeCall(ctx, func(st integrations.Store) error {
			return st.Resume(ctx, s.Platform, s.StoreHandle)
		}); err != nil {
			return err
		}
		if s.PausedAt != nil {
			s.PhasedPausedFor += now.Sub(*s.PausedAt)
		}
		s.PausedAt = nil
		s.Status = domain.SubmissionStatusLive
		e.record(s, domain.ActionResumed, actor, "", now)
		return nil
	})
}

// Halt экстренно останавливает выкатку. HALTED финальный.
func (e *Engine) Halt(ctx context.Context, distID, subID uuid.UUID, actor, reason string) (*domain.Submission, error) {
	return e.mutate(ctx, distID, subID, func(_ *domain.Distribution, s *domain.Submission, now time.Time) error {
		if s.Status.IsTerminal() {
			return domain.Conflict(fmt.Sprintf("submission is already %s", s.Status))
		}
		if s.Platform == domain.PlatformAndroid && s.Status == domain.SubmissionStatusPending {
			return domain.Conflict("submission was not sent to the store")
		}
		if s.StoreHandle != "" {
			if err := e.storeCall(ctx, func(st integrations.Store) error {
				return st.Halt(ctx, s.Platform, s.StoreHandle)
			}); err != nil {
				return err
			}
		}
		s.Status = domain.SubmissionStatusHalted
		e.record(s, domain.ActionHalted, actor, reason, now)
		return nil
	})
}

// Cancel отзывает submission с ревью: IN_REVIEW/APPROVED → CANCELLED.
func (e *Engine) Cancel(ctx context.Context, distID, subID uuid.UUID, actor, reason string) (*domain.Submission, error) {
	return e.mutate(ctx, distID, subID, func(_ *domain.Distribution, s *domain.Submission, now time.Time) error {
		if s.Status != domain.SubmissionStatusInReview && s.Status != domain.SubmissionStatusApproved {
			return domain.Conflict(fmt.Sprintf("only IN_REVIEW or APPROVED submission can be cancelled, submission is %s", s.Status))
		}
		if err := e.storeCall(ctx, func(st integrations.Store) error {
			return st.Cancel(ctx, s.Platform, s.StoreHandle)
		}); err != nil {
			return err
		}
		s.Status = domain.SubmissionStatusCancelled
		e.record(s, domain.ActionCancelled, actor, reason, now)
		return nil
	})
}

// Resubmit создаёт новую submission вместо REJECTED/CANCELLED и сразу отправляет её.
//
// Старая submission не меняется, кроме ссылки SupersededBy,
// которая исключает её из текущих.
func (e *Engine) Resubmit(ctx context.Context, distID uuid.UUID, platform domain.Platform, req domain.SubmitRequest) (*domain.Submission, error) {
	d, err := e.repo.GetByID(ctx, distID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDistributionNotFound, distID)
		}
		return nil, fmt.Errorf("get distribution: %w", err)
	}

	var next *domain.Submission
	err = e.withLock(ctx, d.ReleaseID, func(ctx context.Context) error {
		subs, err := e.repo.ListSubmissions(ctx, d.ID)
		if err != nil {
			return fmt.Errorf("list submissions: %w", err)
		}
		if DeriveStatus(subs) == domain.DistributionStatusReleased {
			return domain.Conflict("distribution is already RELEASED")
		}

		var old *domain.Submission
		for i := range subs {
			if subs[i].IsCurrent() && subs[i].Platform == platform {
				old = &subs[i]
				break
			}
		}
		if old == nil {
			return fmt.Errorf("%w: no %s submission in distribution %s", ErrSubmissionNotFound, platform, distID)
		}
		if old.Status != domain.SubmissionStatusRejected && old.Status != domain.SubmissionStatusCancelled {
			return domain.Conflict(fmt.Sprintf("resubmission requires REJECTED or CANCELLED submission, %s is %s", platform, old.Status))
		}

		now := e.now()
		s := domain.Submission{
			ID:             uuid.New(),
			DistributionID: d.ID,
			Platform:       old.Platform,
			ReleaseMode:    old.ReleaseMode,
			Status:         domain.SubmissionStatusPending,
			RolloutPercent: old.RolloutPercent,
			Version:        old.Version,
			BuildNumber:    old.BuildNumber,
			ReleaseNotes:   old.ReleaseNotes,
			CreatedAt:      now,
		}
		e.record(&s, domain.ActionResubmitted, req.Actor, "replaces "+old.ID.String(), now)

		if err := e.submit(ctx, &s, req, old.StoreHandle, now); err != nil {
			return err
		}
		if err := e.repo.Supersede(ctx, old.ID, &s); err != nil {
			return fmt.Errorf("supersede submission: %w", err)
		}
		next = &s
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("submission resubmitted",
		"release_id", d.ReleaseID,
		"submission_id", next.ID,
		"platform", platform,
		"status", next.Status,
	)
	return next, nil
}

// errNoChange — команда допустима, но ничего не меняет.
var errNoChange = errors.New("no change")

// mutate загружает submission под блокировкой релиза, применяет fn и сохраняет результат.
// Если fn вернула ошибку, состояние не меняется.
func (e *Engine) mutate(ctx context.Context, distID, subID uuid.UUID, fn func(d *domain.Distribution, s *domain.Submission, now time.Time) error) (*domain.Submission, error) {
	d, err := e.repo.GetByID(ctx, distID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDistributionNotFound, distID)
		}
		return nil, fmt.Errorf("get distribution: %w", err)
	}

	var out *domain.Submission
	err = e.withLock(ctx, d.ReleaseID, func(ctx context.Context) error {
		subs, err := e.repo.ListSubmissions(ctx, d.ID)
		if err != nil {
			return fmt.Errorf("list submissions: %w", err)
		}

		var s *domain.Submission
		for i := range subs {
			if subs[i].ID == subID {
				s = &subs[i]
				break
			}
		}
		if s == nil {
			return fmt.Errorf("%w: %s", ErrSubmissionNotFound, subID)
		}
		out = s

		if DeriveStatus(subs) == domain.DistributionStatusReleased {
			return domain.Conflict("distribution is already RELEASED")
		}

		working := s.Clone()
		if err := fn(d, &working, e.now()); err != nil {
			return err
		}
		if err := e.repo.UpdateSubmission(ctx, &working); err != nil {
			return fmt.Errorf("update submission: %w", err)
		}
		out = &working
		return nil
	})
	if errors.Is(err, errNoChange) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}

	e.logger.Info("submission updated",
		"release_id", d.ReleaseID,
		"submission_id", out.ID,
		"platform", out.Platform,
		"status", out.Status,
		"rollout_percent", out.RolloutPercent,
	)
	return out, nil
}

func (e *Engine) withLock(ctx context.Context, releaseID uuid.UUID, fn func(ctx context.Context) error) error {
	if e.locker == nil {
		return fn(ctx)
	}
	return lock.WithLock(ctx, e.locker, lock.ReleaseKey(releaseID), fn)
}

func (e *Engine) storeCall(ctx context.Context, fn func(st integrations.Store) error) error {
	if e.store == nil {
		return ErrStoreNotConfigured
	}
	if err := fn(e.store); err != nil {
		return fmt.Errorf("store call: %w", err)
	}
	return nil
}

func (e *Engine) record(s *domain.Submission, action, actor, reason string, now time.Time) {
	if actor == "" {
		actor = ActorSystem
	}
	s.Record(action, actor, reason, now)
	telemetry.SubmissionActions.WithLabelValues(string(s.Platform), action).Inc()
}

func (e *Engine) byRelease(ctx context.Context, releaseID uuid.UUID) (*domain.Distribution, error) {
	d, err := e.repo.GetByReleaseID(ctx, releaseID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: release %s", ErrDistributionNotFound, releaseID)
		}
		return nil, fmt.Errorf("get distribution: %w", err)
	}
	return d, nil
}

func (e *Engine) view(ctx context.Context, d *domain.Distribution) (*View, error) {
	subs, err := e.repo.ListSubmissions(ctx, d.ID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return &View{Distribution: *d, Status: DeriveStatus(subs), Submissions: Current(subs)}, nil
}

func clampPercent(p float64) float64 {
	return math.Min(100, math.Max(0, p))
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64) + "%"
}
