// Package plusvibe adapts the PlusVibe API to provider.Provider.
//
// PlusVibe scopes everything under a workspace id, resolved once from the
// API key's first workspace. Tags are applied by name, so no tag directory
// is kept.
package plusvibe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/ignite/inboxbench/internal/config"
	"github.com/ignite/inboxbench/internal/domain"
	"github.com/ignite/inboxbench/internal/pkg/httpretry"
	"github.com/ignite/inboxbench/internal/pkg/logger"
	"github.com/ignite/inboxbench/internal/provider"
)

const (
	DefaultBaseURL  = "https://api.plusvibe.ai/api/v1"
	defaultPageSize = 100
)

// ErrNoWorkspace is returned when the API key can see no workspace.
var ErrNoWorkspace = errors.New("plusvibe: no workspace visible to api key")

func init() {
	provider.Register(config.PlatformPlusvibe, func(cfg config.WorkspaceConfig, doer httpretry.HTTPDoer) (provider.Provider, error) {
		return New(cfg, doer), nil
	})
}

// Adapter is one PlusVibe workspace.
type Adapter struct {
	client   *provider.Client
	pageSize int
	index    *provider.AccountIndex

	wsMu        sync.Mutex
	workspaceID string
}

// New creates an adapter authenticating with the X-API-KEY header.
func New(cfg config.WorkspaceConfig, doer httpretry.HTTPDoer) *Adapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	apiKey := cfg.APIKey
	return &Adapter{
		client: provider.NewClient(config.PlatformPlusvibe, baseURL, doer, func(req *http.Request) {
			req.Header.Set("X-API-KEY", apiKey)
		}),
		pageSize: pageSize,
		index:    provider.NewAccountIndex(),
	}
}

func (a *Adapter) Name() string { return config.PlatformPlusvibe }

// list decodes either a bare JSON array or a {"data": [...]} envelope.
type list[T any] []T

func (l *list[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	var env struct {
		Data []T `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	*l = env.Data
	return nil
}

// workspace resolves and caches the workspace id. A failed lookup is not
// cached, so the next call retries.
func (a *Adapter) workspace(ctx context.Context) (string, error) {
	a.wsMu.Lock()
	defer a.wsMu.Unlock()
	if a.workspaceID != "" {
		return a.workspaceID, nil
	}
	var workspaces list[struct {
		ID provider.FlexString `json:"id"`
	}]
	if err := a.client.Do(ctx, "list workspaces", http.MethodGet, "workspaces", nil, nil, &workspaces); err != nil {
		return "", fmt.Errorf("resolving workspace: %w", err)
	}
	if len(workspaces) == 0 || workspaces[0].ID == "" {
		return "", ErrNoWorkspace
	}
	a.workspaceID = workspaces[0].ID.String()
	logger.Debug("plusvibe: resolved workspace", "workspace_id", a.workspaceID)
	return a.workspaceID, nil
}

type emailAccount struct {
	ID           provider.FlexString `json:"id"`
	Email        string              `json:"email"`
	DailyLimit   provider.FlexInt    `json:"daily_limit"`
	CreatedAt    provider.FlexTime   `json:"created_at"`
	WarmupStatus *struct {
		Reputation provider.FlexInt `json:"reputation"`
	} `json:"warmup_status"`
	Tags []provider.NamedTag `json:"tags"`
}

func (a *Adapter) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	ws, err := a.workspace(ctx)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("workspaces/%s/email-accounts", url.PathEscape(ws))

	var accounts []domain.Account
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("limit", strconv.Itoa(a.pageSize))

		var raw list[emailAccount]
		if err := a.client.Do(ctx, "list accounts", http.MethodGet, path, q, nil, &raw); err != nil {
			return nil, fmt.Errorf("fetching email accounts page %d: %w", page, err)
		}
		for _, r := range raw {
			acc := domain.Account{
				ID:         r.ID.String(),
				Email:      r.Email,
				DailyLimit: int(r.DailyLimit),
				CreatedAt:  r.CreatedAt.Time,
				Tags:       domain.NewTagSet(),
			}
			if r.WarmupStatus != nil {
				acc.Reputation = int(r.WarmupStatus.Reputation)
			}
			for _, t := range r.Tags {
				acc.Tags.Add(t.Name)
			}
			if acc.ID == "" || acc.Email == "" {
				logger.Warn("plusvibe: dropping malformed account", "id", acc.ID, "email", acc.Email)
				continue
			}
			accounts = append(accounts, acc)
		}
		if len(raw) < a.pageSize {
			break
		}
	}
	a.index.Reset(accounts)
	return accounts, nil
}

type bulkTagOp struct {
	EmailAccountIDs []string `json:"email_account_ids"`
	Tags            []string `json:"tags"`
	Operation       string   `json:"operation"`
}

// UpdateTags applies tags by name; PlusVibe creates unknown names itself.
func (a *Adapter) UpdateTags(ctx context.Context, accountID string, add, remove []string) error {
	ws, err := a.workspace(ctx)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("workspaces/%s/email-accounts/bulk-tag-ops", url.PathEscape(ws))
	add, remove = a.index.Delta(accountID, add, remove)

	if len(remove) > 0 {
		body := bulkTagOp{EmailAccountIDs: []string{accountID}, Tags: remove, Operation: "remove"}
		if err := a.client.Do(ctx, "remove tags", http.MethodPost, path, nil, body, nil); err != nil {
			return err
		}
		a.index.Apply(accountID, nil, remove)
	}
	if len(add) > 0 {
		body := bulkTagOp{EmailAccountIDs: []string{accountID}, Tags: add, Operation: "add"}
		if err := a.client.Do(ctx, "add tags", http.MethodPost, path, nil, body, nil); err != nil {
			return err
		}
		a.index.Apply(accountID, add, nil)
	}
	return nil
}

type warmupRequest struct {
	EmailAccountIDs []string `json:"email_account_ids"`
	domain.WarmupSettings
}

func (a *Adapter) EnableWarmup(ctx context.Context, accountID string, settings domain.WarmupSettings) error {
	ws, err := a.workspace(ctx)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("workspaces/%s/email-accounts/warmup", url.PathEscape(ws))
	body := warmupRequest{EmailAccountIDs: []string{accountID}, WarmupSettings: settings}
	return a.client.Do(ctx, "enable warmup", http.MethodPost, path, nil, body, nil)
}

func (a *Adapter) campaignPath(ctx context.Context, campaignID string) (string, error) {
	ws, err := a.workspace(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("workspaces/%s/campaigns/%s/email-accounts", url.PathEscape(ws), url.PathEscape(campaignID)), nil
}

func (a *Adapter) ListCampaignMembers(ctx context.Context, campaignID string) ([]string, error) {
	path, err := a.campaignPath(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	var raw list[struct {
		ID provider.FlexString `json:"id"`
	}]
	if err := a.client.Do(ctx, "list campaign accounts", http.MethodGet, path, nil, nil, &raw); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(raw))
	for _, r := range raw {
		if r.ID != "" {
			ids = append(ids, r.ID.String())
		}
	}
	return ids, nil
}

func (a *Adapter) AddToCampaign(ctx context.Context, campaignID, accountID string) error {
	path, err := a.campaignPath(ctx, campaignID)
	if err != nil {
		return err
	}
	body := map[string][]string{"email_account_ids": {accountID}}
	return a.client.Do(ctx, "add campaign account", http.MethodPost, path, nil, body, nil)
}

func (a *Adapter) RemoveFromCampaign(ctx context.Context, campaignID, accountID string) error {
	path, err := a.campaignPath(ctx, campaignID)
	if err != nil {
		return err
	}
	body := map[string][]string{"email_account_ids": {accountID}}
	return a.client.Do(ctx, "remove campaign account", http.MethodDelete, path, nil, body, nil)
}
