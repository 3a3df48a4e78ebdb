package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/Shipyard/internal/domain"
)

const defaultGatewayTimeout = 30 * time.Second

// GatewayConfig — настройки клиента шлюза интеграций.
type GatewayConfig struct {
	// BaseURL — адрес шлюза, например "http://integrations:8090".
	BaseURL string

	// Timeout — таймаут одного запроса. Default: 30s.
	Timeout time.Duration

	// HTTPClient — можно подменить в тестах.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Gateway — клиент HTTP-шлюза интеграций.
//
// Каждая операция — POST на отдельный endpoint с JSON-телом.
// Ответ в конверте {"data": ...} или {"error": {"code", "message"}}.
// Код ошибки NOT_CONFIGURED превращается в ErrNotConfigured,
// REJECTED — в ErrRejected, остальное — в ErrCollaborator.
type Gateway struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewGateway создаёт клиент шлюза.
func NewGateway(cfg GatewayConfig) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		logger:  logger,
	}
}

// --- SCM ---

func (g *Gateway) CreateBranch(ctx context.Context, name, base string) (string, error) {
	var out struct {
		Ref string `json:"ref"`
	}
	err := g.call(ctx, "/scm/branches", map[string]string{"name": name, "base": base}, &out)
	return out.Ref, err
}

func (g *Gateway) CreateTag(ctx context.Context, branch, tag string) (string, error) {
	var out struct {
		Ref string `json:"ref"`
	}
	err := g.call(ctx, "/scm/tags", map[string]string{"branch": branch, "tag": tag}, &out)
	return out.Ref, err
}

func (g *Gateway) CherryPickParity(ctx context.Context, branch string) (bool, error) {
	var out struct {
		InParity bool `json:"in_parity"`
	}
	err := g.call(ctx, "/scm/cherry-pick-parity", map[string]string{"branch": branch}, &out)
	return out.InParity, err
}

// --- CI ---

func (g *Gateway) TriggerBuild(ctx context.Context, req BuildRequest) (RunHandle, error) {
	var out RunHandle
	err := g.call(ctx, "/ci/builds", req, &out)
	return out, err
}

// --- Test management ---

func (g *Gateway) CreateSuite(ctx context.Context, rel *domain.Release) (string, error) {
	var out struct {
		SuiteID string `json:"suite_id"`
	}
	err := g.call(ctx, "/tests/suites", releaseRef(rel), &out)
	return out.SuiteID, err
}

func (g *Gateway) ResetSuite(ctx context.Context, suiteID string) error {
	return g.call(ctx, "/tests/suites/reset", map[string]string{"suite_id": suiteID}, nil)
}

func (g *Gateway) RunStatus(ctx context.Context, suiteID string) (RunStatus, error) {
	var out RunStatus
	err := g.call(ctx, "/tests/runs/status", map[string]string{"suite_id": suiteID}, &out)
	return out, err
}

// --- Project management ---

func (g *Gateway) CreateTicket(ctx context.Context, rel *domain.Release) (string, error) {
	var out struct {
		Key string `json:"key"`
	}
	err := g.call(ctx, "/projects/tickets", releaseRef(rel), &out)
	return out.Key, err
}

func (g *Gateway) TicketStatus(ctx context.Context, key string) (bool, error) {
	var out struct {
		Done bool `json:"done"`
	}
	err := g.call(ctx, "/projects/tickets/status", map[string]string{"key": key}, &out)
	return out.Done, err
}

// --- Notifier ---

func (g *Gateway) Notify(ctx context.Context, n Notification) error {
	return g.call(ctx, "/notify", n, nil)
}

// --- Store ---

func (g *Gateway) LookupVersion(ctx context.Context, platform domain.Platform, version string) (StoreVersion, bool, error) {
	var out struct {
		Found bool `json:"found"`
		StoreVersion
	}
	err := g.call(ctx, "/store/versions/lookup", map[string]string{
		"platform": string(platform),
		"version":  version,
	}, &out)
	return out.StoreVersion, out.Found, err
}

func (g *Gateway) Submit(ctx context.Context, sub StoreSubmission) (string, error) {
	var out struct {
		Handle string `json:"handle"`
	}
	err := g.call(ctx, "/store/submissions", sub, &out)
	return out.Handle, err
}

func (g *Gateway) UpdateRollout(ctx context.Context, platform domain.Platform, handle string, percent float64) error {
	return g.call(ctx, "/store/rollout", map[string]any{
		"platform": platform,
		"handle":   handle,
		"percent":  percent,
	}, nil)
}

func (g *Gateway) Pause(ctx context.Context, platform domain.Platform, handle string) error {
	return g.call(ctx, "/store/pause", storeRef(platform, handle), nil)
}

func (g *Gateway) Resume(ctx context.Context, platform domain.Platform, handle string) error {
	return g.call(ctx, "/store/resume", storeRef(platform, handle), nil)
}

func (g *Gateway) Halt(ctx context.Context, platform domain.Platform, handle string) error {
	return g.call(ctx, "/store/halt", storeRef(platform, handle), nil)
}

func (g *Gateway) Cancel(ctx context.Context, platform domain.Platform, handle string) error {
	return g.call(ctx, "/store/cancel", storeRef(platform, handle), nil)
}

func (g *Gateway) Status(ctx context.Context, platform domain.Platform, handle string) (StoreStatus, error) {
	var out StoreStatus
	err := g.call(ctx, "/store/status", storeRef(platform, handle), &out)
	return out, err
}

// --- HTTP ---

type gatewayError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call выполняет POST path с телом body и декодирует data в out.
func (g *Gateway) call(ctx context.Context, path string, body, out any) error {
	if g.baseURL == "" {
		return fmt.Errorf("%w: gateway url is empty", ErrNotConfigured)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s: %v", ErrCollaborator, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrCollaborator, err)
	}

	g.logger.Debug("gateway call",
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode >= 400 {
		var ge gatewayError
		_ = json.Unmarshal(respBody, &ge)
		msg := ge.Error.Message
		if msg == "" {
			msg = truncate(string(respBody), 200)
		}
		switch ge.Error.Code {
		case "NOT_CONFIGURED":
			return fmt.Errorf("%w: %s", ErrNotConfigured, msg)
		case "REJECTED":
			return fmt.Errorf("%w: %s", ErrRejected, msg)
		default:
			return fmt.Errorf("%w: HTTP %d: %s", ErrCollaborator, resp.StatusCode, msg)
		}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrCollaborator, err)
	}
	if len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("%w: decode data: %v", ErrCollaborator, err)
	}
	return nil
}

func releaseRef(rel *domain.Release) map[string]any {
	return map[string]any{
		"release_id": rel.ID.String(),
		"code":       rel.Code,
		"tenant_id":  rel.TenantID,
		"branch":     rel.Branch,
		"platforms":  rel.Platforms,
	}
}

func storeRef(platform domain.Platform, handle string) map[string]string {
	return map[string]string{"platform": string(platform), "handle": handle}
}

// truncate обрезает строку до maxLen символов.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
