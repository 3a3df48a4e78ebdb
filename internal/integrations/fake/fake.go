// Package fake — управляемые коллабораторы для тестов.
//
// Collaborators реализует все интерфейсы integrations, считает вызовы
// и позволяет подставить ошибку или задержку на любую операцию.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shaiso/Shipyard/internal/domain"
	"github.com/shaiso/Shipyard/internal/integrations"
)

// Collaborators — фейковая реализация всех коллабораторов.
type Collaborators struct {
	mu sync.Mutex

	// Calls — счётчик вызовов по имени операции.
	Calls map[string]int

	// Errors — ошибка, которую вернёт операция.
	Errors map[string]error

	// Delay — задержка перед ответом операции (для проверки таймаутов).
	Delay map[string]time.Duration

	// TestRun — результат RunStatus.
	TestRun integrations.RunStatus

	// Parity — результат CherryPickParity.
	Parity bool

	// TicketDone — результат TicketStatus.
	TicketDone bool

	// StoreVersions — версии, уже известные стору: platform/version → версия.
	StoreVersions map[string]integrations.StoreVersion

	// StoreStatuses — состояние отправок в сторе по handle.
	StoreStatuses map[string]integrations.StoreStatus

	// Notifications — отправленные уведомления.
	Notifications []integrations.Notification

	seq int
}

// New создаёт коллабораторы, у которых все проверки проходят.
func New() *Collaborators {
	return &Collaborators{
		Calls:         make(map[string]int),
		Errors:        make(map[string]error),
		Delay:         make(map[string]time.Duration),
		TestRun:       integrations.RunStatus{Passed: 10, Total: 10, ThresholdMet: true},
		Parity:        true,
		TicketDone:    true,
		StoreVersions: make(map[string]integrations.StoreVersion),
		StoreStatuses: make(map[string]integrations.StoreStatus),
	}
}

// Set возвращает integrations.Set, где все коллабораторы — этот фейк.
func (f *Collaborators) Set() integrations.Set {
	return integrations.Set{SCM: f, CI: f, Tests: f, Projects: f, Notifier: f, Store: f}
}

// Fail настраивает ошибку для операции.
func (f *Collaborators) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[op] = err
}

// Count возвращает число вызовов операции.
func (f *Collaborators) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[op]
}

// Total возвращает общее число вызовов.
func (f *Collaborators) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		n += c
	}
	return n
}

// enter регистрирует вызов, ждёт задержку и возвращает настроенную ошибку.
func (f *Collaborators) enter(ctx context.Context, op string) error {
	f.mu.Lock()
	f.Calls[op]++
	delay := f.Delay[op]
	err := f.Errors[op]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *Collaborators) next(prefix string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

// --- SCM ---

func (f *Collaborators) CreateBranch(ctx context.Context, name, _ string) (string, error) {
	if err := f.enter(ctx, "CreateBranch"); err != nil {
		return "", err
	}
	return "refs/heads/" + name, nil
}

func (f *Collaborators) CreateTag(ctx context.Context, _, tag string) (string, error) {
	if err := f.enter(ctx, "CreateTag"); err != nil {
		return "", err
	}
	return "refs/tags/" + tag, nil
}

func (f *Collaborators) CherryPickParity(ctx context.Context, _ string) (bool, error) {
	if err := f.enter(ctx, "CherryPickParity"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Parity, nil
}

// --- CI ---

func (f *Collaborators) TriggerBuild(ctx context.Context, req integrations.BuildRequest) (integrations.RunHandle, error) {
	if err := f.enter(ctx, "TriggerBuild"); err != nil {
		return integrations.RunHandle{}, err
	}
	id := f.next("run")
	return integrations.RunHandle{RunID: id, URL: "https://ci.example/" + id}, nil
}

// --- Test management ---

func (f *Collaborators) CreateSuite(ctx context.Context, _ *domain.Release) (string, error) {
	if err := f.enter(ctx, "CreateSuite"); err != nil {
		return "", err
	}
	return f.next("suite"), nil
}

func (f *Collaborators) ResetSuite(ctx context.Context, _ string) error {
	return f.enter(ctx, "ResetSuite")
}

func (f *Collaborators) RunStatus(ctx context.Context, _ string) (integrations.RunStatus, error) {
	if err := f.enter(ctx, "RunStatus"); err != nil {
		return integrations.RunStatus{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.TestRun, nil
}

// --- Project management ---

func (f *Collaborators) CreateTicket(ctx context.Context, _ *domain.Release) (string, error) {
	if err := f.enter(ctx, "CreateTicket"); err != nil {
		return "", err
	}
	return f.next("REL"), nil
}

func (f *Collaborators) TicketStatus(ctx context.Context, _ string) (bool, error) {
	if err := f.enter(ctx, "TicketStatus"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.TicketDone, nil
}

// --- Notifier ---

func (f *Collaborators) Notify(ctx context.Context, n integrations.Notification) error {
	if err := f.enter(ctx, "Notify"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Notifications = append(f.Notifications, n)
	return nil
}

// --- Store ---

func versionKey(platform domain.Platform, version string) string {
	return string(platform) + "/" + version
}

// AddStoreVersion регистрирует версию, уже существующую в сторе.
func (f *Collaborators) AddStoreVersion(platform domain.Platform, version string, v integrations.StoreVersion) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StoreVersions[versionKey(platform, version)] = v
}

func (f *Collaborators) LookupVersion(ctx context.Context, platform domain.Platform, version string) (integrations.StoreVersion, bool, error) {
	if err := f.enter(ctx, "LookupVersion"); err != nil {
		return integrations.StoreVersion{}, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.StoreVersions[versionKey(platform, version)]
	return v, ok, nil
}

func (f *Collaborators) Submit(ctx context.Context, sub integrations.StoreSubmission) (string, error) {
	if err := f.enter(ctx, "Submit"); err != nil {
		return "", err
	}
	handle := f.next("store")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StoreStatuses[handle] = integrations.StoreStatus{Status: domain.SubmissionStatusInReview}
	f.StoreVersions[versionKey(sub.Platform, sub.Version)] = integrations.StoreVersion{
		Handle: handle,
		Status: domain.SubmissionStatusInReview,
	}
	return handle, nil
}

// SetStoreStatus задаёт состояние отправки в сторе (для Sync).
func (f *Collaborators) SetStoreStatus(handle string, st integrations.StoreStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StoreStatuses[handle] = st
}

func (f *Collaborators) UpdateRollout(ctx context.Context, _ domain.Platform, handle string, percent float64) error {
	if err := f.enter(ctx, "UpdateRollout"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.StoreStatuses[handle]
	st.RolloutPercent = percent
	f.StoreStatuses[handle] = st
	return nil
}

func (f *Collaborators) Pause(ctx context.Context, _ domain.Platform, _ string) error {
	return f.enter(ctx, "Pause")
}

func (f *Collaborators) Resume(ctx context.Context, _ domain.Platform, _ string) error {
	return f.enter(ctx, "Resume")
}

func (f *Collaborators) Halt(ctx context.Context, _ domain.Platform, _ string) error {
	return f.enter(ctx, "Halt")
}

func (f *Collaborators) Cancel(ctx context.Context, _ domain.Platform, _ string) error {
	return f.enter(ctx, "Cancel")
}

func (f *Collaborators) Status(ctx context.Context, _ domain.Platform, handle string) (integrations.StoreStatus, error) {
	if err := f.enter(ctx, "Status"); err != nil {
		return integrations.StoreStatus{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.StoreStatuses[handle]
	if !ok {
		return integrations.StoreStatus{}, fmt.Errorf("%w: unknown handle %s", integrations.ErrCollaborator, handle)
	}
	return st, nil
}
