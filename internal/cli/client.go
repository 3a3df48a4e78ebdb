package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// PlatformTarget — платформа релиза.
type PlatformTarget struct {
	Platform string `json:"platform"`
	Target   string `json:"target,omitempty"`
	Version  string `json:"version"`
}

// ReleaseResponse — релиз из API.
type ReleaseResponse struct {
	ID                string           `json:"id"`
	Code              string           `json:"code"`
	TenantID          string           `json:"tenant_id"`
	Status            string           `json:"status"`
	Type              string           `json:"type"`
	Branch            string           `json:"branch"`
	BaseBranch        string           `json:"base_branch"`
	KickoffDate       string           `json:"kickoff_date"`
	TargetReleaseDate string           `json:"target_release_date"`
	ReleasedAt        string           `json:"released_at,omitempty"`
	Platforms         []PlatformTarget `json:"platforms"`
	CreatedAt         string           `json:"created_at"`
}

// CronJobResponse — состояние оркестратора релиза.
type CronJobResponse struct {
	ID              string            `json:"id"`
	ReleaseID       string            `json:"release_id"`
	CronStatus      string            `json:"cron_status"`
	Stages          map[string]string `json:"stages"`
	PauseType       string            `json:"pause_type"`
	PauseReason     string            `json:"pause_reason,omitempty"`
	AutoTransitions map[string]bool   `json:"auto_transitions,omitempty"`
	Version         int               `json:"version"`
}

// TaskResponse — задача релиза из API.
type TaskResponse struct {
	ID         string `json:"id"`
	ReleaseID  string `json:"release_id"`
	Stage      string `json:"stage"`
	Type       string `json:"type"`
	Platform   string `json:"platform,omitempty"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion,omitempty"`
	Error      string `json:"error,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	CycleID    string `json:"cycle_id,omitempty"`
	Attempt    int    `json:"attempt"`
	CreatedAt  string `json:"created_at"`
}

// StatusResponse — состояние релиза.
type StatusResponse struct {
	Release     ReleaseResponse `json:"release"`
	CronJob     CronJobResponse `json:"cron_job"`
	ActiveStage string          `json:"active_stage,omitempty"`
	FailedTasks []TaskResponse  `json:"failed_tasks,omitempty"`
}

// KickoffResponse — ответ на kickoff.
type KickoffResponse struct {
	Release ReleaseResponse `json:"release"`
	CronJob CronJobResponse `json:"cron_job"`
}

// StageTasksResponse — задачи стадии.
type StageTasksResponse struct {
	Stage       string         `json:"stage"`
	StageStatus string         `json:"stage_status"`
	Tasks       []TaskResponse `json:"tasks"`
}

// TickResponse — итог тика.
type TickResponse struct {
	Outcome   string   `json:"outcome"`
	Stage     string   `json:"stage,omitempty"`
	Completed []string `json:"completed,omitempty"`
	PauseType string   `json:"pause_type,omitempty"`
}

// CycleResponse — цикл регрессии.
type CycleResponse struct {
	ID          string `json:"id"`
	ReleaseID   string `json:"release_id"`
	SlotIndex   int    `json:"slot_index"`
	Tag         string `json:"tag"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// SubmissionResponse — submission из API.
type SubmissionResponse struct {
	ID             string  `json:"id"`
	DistributionID string  `json:"distribution_id"`
	Platform       string  `json:"platform"`
	ReleaseMode    string  `json:"release_mode"`
	Status         string  `json:"status"`
	RolloutPercent float64 `json:"rollout_percent"`
	Version        string  `json:"version"`
	BuildNumber    string  `json:"build_number,omitempty"`
	StoreHandle    string  `json:"store_handle,omitempty"`
	SupersededBy   string  `json:"superseded_by,omitempty"`
	UpdatedAt      string  `json:"updated_at"`
}

// DistributionResponse — дистрибуция из API.
type DistributionResponse struct {
	ID          string               `json:"id"`
	ReleaseID   string               `json:"release_id"`
	Status      string               `json:"status"`
	Platforms   []string             `json:"platforms"`
	Submissions []SubmissionResponse `json:"submissions"`
	CreatedAt   string               `json:"created_at"`
}

// --- Request types ---

// KickoffRequest — запуск релиза.
type KickoffRequest struct {
	Code              string           `json:"code"`
	TenantID          string           `json:"tenant_id,omitempty"`
	Type              string           `json:"type,omitempty"`
	Branch            string           `json:"branch,omitempty"`
	BaseBranch        string           `json:"base_branch,omitempty"`
	KickoffDate       *time.Time       `json:"kickoff_date,omitempty"`
	TargetReleaseDate time.Time        `json:"target_release_date"`
	Platforms         []PlatformTarget `json:"platforms"`
	Config            map[string]any   `json:"config,omitempty"`
	AutoTransitions   map[string]bool  `json:"auto_transitions,omitempty"`
}

// SubmitRequest — отправка в стор.
type SubmitRequest struct {
	Platform     string `json:"platform,omitempty"`
	Version      string `json:"version,omitempty"`
	BuildNumber  string `json:"build_number"`
	ArtifactRef  string `json:"artifact_ref"`
	ReleaseNotes string `json:"release_notes,omitempty"`
	Actor        string `json:"actor"`
	Resolution   string `json:"resolution,omitempty"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string   `json:"code"`
		Message string   `json:"message"`
		Options []string `json:"options"`
	} `json:"error"`
}

// APIError — ошибка, которую вернул API.
type APIError struct {
	Status  int
	Code    string
	Message string

	// Options — варианты разрешения конфликта (например, USE_EXISTING).
	Options []string
}

func (e *APIError) Error() string {
	msg := e.Code + ": " + e.Message
	if len(e.Options) > 0 {
		msg += " (retry with one of: " + strings.Join(e.Options, ", ") + ")"
	}
	return msg
}

// --- Client ---

// Client — HTTP-клиент для Shipyard API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Releases ---

// ListReleases возвращает релизы в работе.
func (c *Client) ListReleases(limit int) ([]ReleaseResponse, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var releases []ReleaseResponse
	err := c.list("/api/v1/releases", params, &releases)
	return releases, err
}

// Kickoff запускает релиз.
func (c *Client) Kickoff(req KickoffRequest) (*KickoffResponse, error) {
	var resp KickoffResponse
	err := c.post("/api/v1/releases", req, &resp)
	return &resp, err
}

// GetRelease возвращает состояние релиза.
func (c *Client) GetRelease(id string) (*StatusResponse, error) {
	var status StatusResponse
	err := c.get("/api/v1/releases/"+id, &status)
	return &status, err
}

// Pause ставит релиз на паузу.
func (c *Client) Pause(id, reason string) (*CronJobResponse, error) {
	var cron CronJobResponse
	err := c.post("/api/v1/releases/"+id+"/pause", map[string]string{"reason": reason}, &cron)
	return &cron, err
}

// Resume снимает паузу.
func (c *Client) Resume(id string) (*CronJobResponse, error) {
	var cron CronJobResponse
	err := c.post("/api/v1/releases/"+id+"/resume", nil, &cron)
	return &cron, err
}

// Archive архивирует релиз.
func (c *Client) Archive(id string) (*ReleaseResponse, error) {
	var rel ReleaseResponse
	err := c.post("/api/v1/releases/"+id+"/archive", nil, &rel)
	return &rel, err
}

// TriggerStage запускает стадию, ожидающую ручного перехода.
func (c *Client) TriggerStage(id, stage string) (*CronJobResponse, error) {
	var cron CronJobResponse
	err := c.post("/api/v1/releases/"+id+"/stages/"+url.PathEscape(stage)+"/trigger", nil, &cron)
	return &cron, err
}

// Tick выполняет тик релиза.
func (c *Client) Tick(id string) (*TickResponse, error) {
	var tick TickResponse
	err := c.post("/api/v1/releases/"+id+"/tick", nil, &tick)
	return &tick, err
}

// ListTasks возвращает задачи релиза, опционально по стадии.
func (c *Client) ListTasks(id, stage string) (*StageTasksResponse, error) {
	path := "/api/v1/releases/" + id + "/tasks"
	if stage != "" {
		path += "?" + url.Values{"stage": {stage}}.Encode()
	}
	var tasks StageTasksResponse
	err := c.get(path, &tasks)
	return &tasks, err
}

// ListCycles возвращает циклы регрессии релиза.
func (c *Client) ListCycles(id string) ([]CycleResponse, error) {
	var cycles []CycleResponse
	err := c.list("/api/v1/releases/"+id+"/cycles", nil, &cycles)
	return cycles, err
}

// --- Tasks and cycles ---

// RetryTask возвращает упавшую задачу в PENDING.
func (c *Client) RetryTask(id string) (*TaskResponse, error) {
	var task TaskResponse
	err := c.post("/api/v1/tasks/"+id+"/retry", nil, &task)
	return &task, err
}

// AttachManualBuild прикрепляет сборку к задаче.
func (c *Client) AttachManualBuild(id, buildNumber, artifactURL string) (*TaskResponse, error) {
	body := map[string]string{"build_number": buildNumber, "url": artifactURL}
	var task TaskResponse
	err := c.post("/api/v1/tasks/"+id+"/manual-build", body, &task)
	return &task, err
}

// AbandonCycle отменяет цикл регрессии.
func (c *Client) AbandonCycle(id string) (*CycleResponse, error) {
	var cycle CycleResponse
	err := c.post("/api/v1/cycles/"+id+"/abandon", nil, &cycle)
	return &cycle, err
}

// --- Distributions ---

// GetDistribution возвращает дистрибуцию релиза.
func (c *Client) GetDistribution(releaseID string) (*DistributionResponse, error) {
	var d DistributionResponse
	err := c.get("/api/v1/distributions/"+releaseID, &d)
	return &d, err
}

// SyncDistribution опрашивает стор и возвращает обновлённую дистрибуцию.
func (c *Client) SyncDistribution(releaseID string) (*DistributionResponse, error) {
	var d DistributionResponse
	err := c.post("/api/v1/distributions/"+releaseID+"/sync", nil, &d)
	return &d, err
}

// DistributionHistory возвращает все submissions релиза.
func (c *Client) DistributionHistory(releaseID string) ([]SubmissionResponse, error) {
	var subs []SubmissionResponse
	err := c.list("/api/v1/distributions/"+releaseID+"/history", nil, &subs)
	return subs, err
}

// Submit отправляет submission в стор.
func (c *Client) Submit(distID, subID string, req SubmitRequest) (*SubmissionResponse, error) {
	var sub SubmissionResponse
	err := c.post(submissionPath(distID, subID)+"/submit", req, &sub)
	return &sub, err
}

// UpdateRollout меняет процент выкатки.
func (c *Client) UpdateRollout(distID, subID string, percent float64, actor string) (*SubmissionResponse, error) {
	body := map[string]any{"percent": percent, "actor": actor}
	var sub SubmissionResponse
	err := c.doData(http.MethodPatch, submissionPath(distID, subID)+"/rollout", body, &sub)
	return &sub, err
}

// SubmissionAction выполняет pause, resume, halt или cancel.
func (c *Client) SubmissionAction(distID, subID, action, actor, reason string) (*SubmissionResponse, error) {
	path := submissionPath(distID, subID)
	switch action {
	case "pause", "resume", "halt":
		path += "/rollout/" + action
	case "cancel":
		path += "/cancel"
	default:
		return nil, fmt.Errorf("unknown submission action %q", action)
	}
	body := map[string]string{"actor": actor, "reason": reason}
	var sub SubmissionResponse
	err := c.post(path, body, &sub)
	return &sub, err
}

// Resubmit создаёт новую submission вместо отклонённой.
func (c *Client) Resubmit(distID string, req SubmitRequest) (*SubmissionResponse, error) {
	var sub SubmissionResponse
	err := c.post("/api/v1/distributions/"+distID+"/submissions", req, &sub)
	return &sub, err
}

func submissionPath(distID, subID string) string {
	return "/api/v1/distributions/" + distID + "/submissions/" + subID
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return &APIError{Status: resp.StatusCode, Code: "HTTP_" + strconv.Itoa(resp.StatusCode), Message: http.StatusText(resp.StatusCode)}
	}

	return &APIError{
		Status:  resp.StatusCode,
		Code:    er.Error.Code,
		Message: er.Error.Message,
		Options: er.Error.Options,
	}
}
