package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"pickofgods/internal/apperr"
	"pickofgods/internal/config"
	"pickofgods/internal/kv"
	"pickofgods/internal/logger"
	"pickofgods/internal/models"
)

const (
	registryPrefix = "script:"
	uploadTimeout  = 30 * time.Second
	maxErrorBody   = 2048
)

var scriptNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,62}$`)

// Request is the body of a publish call.
type Request struct {
	ScriptName string   `json:"scriptName"`
	Code       string   `json:"code"`
	Routes     []string `json:"routes,omitempty"`
}

// Result is returned after a successful publish.
type Result struct {
	Success    bool     `json:"success"`
	ScriptName string   `json:"scriptName"`
	WorkerID   string   `json:"workerId"`
	Routes     []string `json:"routes"`
}

// Publisher uploads edge scripts to the hosting API and keeps a registry of
// what was published in the KV store.
type Publisher struct {
	cfg      config.DeployConfig
	registry kv.Store
	client   *http.Client
	l        logger.Logger
	now      func() time.Time
}

func NewPublisher(cfg config.DeployConfig, registry kv.Store, l logger.Logger) *Publisher {
	if l == nil {
		l = logger.NewNop()
	}
	base := &http.Client{Timeout: uploadTimeout}
	client := base
	if cfg.APIToken != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIToken}))
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	return &Publisher{cfg: cfg, registry: registry, client: client, l: l, now: time.Now}
}

// Publish uploads req.Code under req.ScriptName and records it.
func (p *Publisher) Publish(ctx context.Context, req Request) (*Result, error) {
	if p.cfg.IsReadOnly() {
		return nil, fmt.Errorf("%w: deployment not allowed on this account", apperr.ErrReadOnly)
	}
	if p.cfg.AccountID == "" || p.cfg.APIToken == "" {
		return nil, fmt.Errorf("%w: deploy account id and api token", apperr.ErrConfigurationMissing)
	}
	req.ScriptName = strings.TrimSpace(req.ScriptName)
	if req.ScriptName == "" || strings.TrimSpace(req.Code) == "" {
		return nil, fmt.Errorf("%w: scriptName and code are required", apperr.ErrInvalidRequest)
	}
	if !scriptNamePattern.MatchString(req.ScriptName) {
		return nil, fmt.Errorf("%w: invalid scriptName %q", apperr.ErrInvalidRequest, req.ScriptName)
	}

	if err := p.upload(ctx, req.ScriptName, req.Code); err != nil {
		return nil, err
	}

	entry := models.DeployedScript{
		ScriptName: req.ScriptName,
		WorkerID:   workerID(req.ScriptName),
		Routes:     req.Routes,
		DeployedAt: p.now().UTC(),
	}
	if p.registry != nil {
		data, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("encode registry entry: %w", err)
		}
		if err := p.registry.Put(ctx, registryPrefix+req.ScriptName, data, 0); err != nil {
			// the script is live even if the registry write fails
			p.l.Warnf(ctx, "deploy: registry write for %s failed: %v", req.ScriptName, err)
		}
	}
	p.l.Infof(ctx, "deploy: published script %s", req.ScriptName)

	return &Result{
		Success:    true,
		ScriptName: entry.ScriptName,
		WorkerID:   entry.WorkerID,
		Routes:     entry.Routes,
	}, nil
}

func (p *Publisher) upload(ctx context.Context, name, code string) error {
	endpoint := fmt.Sprintf("%s/accounts/%s/workers/scripts/%s",
		p.cfg.APIBase, url.PathEscape(p.cfg.AccountID), url.PathEscape(name))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewBufferString(code))
	if err != nil {
		return fmt.Errorf("%w: build deploy request: %v", apperr.ErrUpstream, err)
	}
	httpReq.Header.Set("Content-Type", "application/javascript")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: deployment failed: %v", apperr.ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		p.l.Warnf(ctx, "deploy: upstream returned %d for %s: %s", resp.StatusCode, name, strings.TrimSpace(string(body)))
		return fmt.Errorf("%w: deployment failed: status %d", apperr.ErrUpstream, resp.StatusCode)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// List returns the registered scripts sorted by name.
func (p *Publisher) List(ctx context.Context) ([]models.DeployedScript, error) {
	if p.registry == nil {
		return []models.DeployedScript{}, nil
	}
	keys, err := p.registry.List(ctx, registryPrefix)
	if err != nil {
		return nil, fmt.Errorf("list scripts: %w", err)
	}
	out := make([]models.DeployedScript, 0, len(keys))
	for _, key := range keys {
		raw, err := p.registry.Get(ctx, key)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("read script %s: %w", key, err)
		}
		var entry models.DeployedScript
		if err := json.Unmarshal(raw, &entry); err != nil {
			p.l.Warnf(ctx, "deploy: skip corrupt registry entry %s: %v", key, err)
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScriptName < out[j].ScriptName })
	return out, nil
}

// ReadOnly reports whether publishing is disabled.
func (p *Publisher) ReadOnly() bool {
	return p.cfg.IsReadOnly()
}

func workerID(name string) string {
	return "worker-" + name
}
