// Package smartlead adapts the Smartlead REST API to provider.Provider.
package smartlead

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ignite/inboxbench/internal/config"
	"github.com/ignite/inboxbench/internal/domain"
	"github.com/ignite/inboxbench/internal/pkg/httpretry"
	"github.com/ignite/inboxbench/internal/pkg/logger"
	"github.com/ignite/inboxbench/internal/provider"
)

const (
	DefaultBaseURL  = "https://server.smartlead.ai/api/v1"
	defaultPageSize = 50

	// campaignMemberLimit overrides the campaign accounts endpoint's small
	// default page, which would otherwise hide members from the diff.
	campaignMemberLimit = 1000
)

func init() {
	provider.Register(config.PlatformSmartlead, func(cfg config.WorkspaceConfig, doer httpretry.HTTPDoer) (provider.Provider, error) {
		return New(cfg, doer), nil
	})
}

// Adapter is a Smartlead workspace. Account ids are Smartlead's numeric ids
// in base 10.
type Adapter struct {
	client   *provider.Client
	pageSize int
	tags     *provider.TagDirectory
	index    *provider.AccountIndex
}

// New creates an adapter. The API key travels as the api_key query parameter.
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
	a := &Adapter{
		client: provider.NewClient(config.PlatformSmartlead, baseURL, doer, func(req *http.Request) {
			q := req.URL.Query()
			q.Set("api_key", apiKey)
			req.URL.RawQuery = q.Encode()
		}),
		pageSize: pageSize,
		index:    provider.NewAccountIndex(),
	}
	a.tags = provider.NewTagDirectory(a.listTags, a.createTag)
	return a
}

func (a *Adapter) Name() string { return config.PlatformSmartlead }

type emailAccount struct {
	ID            provider.FlexString `json:"id"`
	FromEmail     string              `json:"from_email"`
	Email         string              `json:"email"`
	MessagePerDay provider.FlexInt    `json:"message_per_day"`
	CreatedAt     provider.FlexTime   `json:"created_at"`
	WarmupDetails *struct {
		WarmupReputation provider.FlexInt `json:"warmup_reputation"`
	} `json:"warmup_details"`
	Tags []provider.NamedTag `json:"tags"`
}

func (r emailAccount) normalize() domain.Account {
	acc := domain.Account{
		ID:         r.ID.String(),
		Email:      r.FromEmail,
		DailyLimit: int(r.MessagePerDay),
		CreatedAt:  r.CreatedAt.Time,
		Tags:       domain.NewTagSet(),
	}
	if acc.Email == "" {
		acc.Email = r.Email
	}
	if r.WarmupDetails != nil {
		acc.Reputation = int(r.WarmupDetails.WarmupReputation)
	}
	for _, t := range r.Tags {
		acc.Tags.Add(t.Name)
	}
	return acc
}

// ListAccounts pages with offset/limit until a short page comes back.
func (a *Adapter) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	// A listing starts a run; tags renamed or deleted since the last one
	// must not resolve to stale ids.
	a.tags.Invalidate()
	var accounts []domain.Account
	for offset := 0; ; offset += a.pageSize {
		q := url.Values{}
		q.Set("offset", strconv.Itoa(offset))
		q.Set("limit", strconv.Itoa(a.pageSize))

		var page []emailAccount
		if err := a.client.Do(ctx, "list accounts", http.MethodGet, "email-accounts", q, nil, &page); err != nil {
			return nil, fmt.Errorf("fetching email accounts at offset %d: %w", offset, err)
		}
		for _, raw := range page {
			acc := raw.normalize()
			if acc.ID == "" || acc.Email == "" {
				logger.Warn("smartlead: dropping malformed account", "id", acc.ID, "email", acc.Email)
				continue
			}
			accounts = append(accounts, acc)
		}
		if len(page) < a.pageSize {
			break
		}
	}
	a.index.Reset(accounts)
	return accounts, nil
}

func (a *Adapter) listTags(ctx context.Context) ([]provider.Tag, error) {
	var raw []provider.NamedTag
	if err := a.client.Do(ctx, "list tags", http.MethodGet, "tags", nil, nil, &raw); err != nil {
		return nil, err
	}
	tags := make([]provider.Tag, 0, len(raw))
	for _, t := range raw {
		tags = append(tags, provider.Tag{ID: t.ID.String(), Name: t.Name})
	}
	return tags, nil
}

func (a *Adapter) createTag(ctx context.Context, name string) (provider.Tag, error) {
	body := map[string]string{"name": name, "color": provider.ColorFor(name)}
	var created provider.NamedTag
	if err := a.client.Do(ctx, "create tag", http.MethodPost, "tags", nil, body, &created); err != nil {
		return provider.Tag{}, err
	}
	if created.ID == "" {
		return provider.Tag{}, fmt.Errorf("smartlead create tag %q: response carried no id", name)
	}
	logger.Info("smartlead: created tag", "tag", name, "tag_id", created.ID)
	return provider.Tag{ID: created.ID.String(), Name: name}, nil
}

type tagMapping struct {
	EmailAccountIDs []int `json:"email_account_ids"`
	TagIDs          []int `json:"tag_ids"`
}

// UpdateTags maps and unmaps tags through the bulk tag-mapping endpoint.
// Removing a tag the workspace has never defined is a no-op.
func (a *Adapter) UpdateTags(ctx context.Context, accountID string, add, remove []string) error {
	id, err := parseID(accountID)
	if err != nil {
		return err
	}
	add, remove = a.index.Delta(accountID, add, remove)

	var addIDs, removeIDs []int
	for _, name := range add {
		tagID, err := a.tags.Ensure(ctx, name)
		if err != nil {
			return err
		}
		n, err := strconv.Atoi(tagID)
		if err != nil {
			return fmt.Errorf("smartlead tag %q has non-numeric id %q", name, tagID)
		}
		addIDs = append(addIDs, n)
	}
	for _, name := range remove {
		tagID, ok, err := a.tags.Lookup(ctx, name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		n, err := strconv.Atoi(tagID)
		if err != nil {
			return fmt.Errorf("smartlead tag %q has non-numeric id %q", name, tagID)
		}
		removeIDs = append(removeIDs, n)
	}

	if len(removeIDs) > 0 {
		body := tagMapping{EmailAccountIDs: []int{id}, TagIDs: removeIDs}
		if err := a.client.Do(ctx, "remove tags", http.MethodDelete, "email-accounts/tag-mapping", nil, body, nil); err != nil {
			return err
		}
		a.index.Apply(accountID, nil, remove)
	}
	if len(addIDs) > 0 {
		body := tagMapping{EmailAccountIDs: []int{id}, TagIDs: addIDs}
		if err := a.client.Do(ctx, "add tags", http.MethodPost, "email-accounts/tag-mapping", nil, body, nil); err != nil {
			return err
		}
		a.index.Apply(accountID, add, nil)
	}
	return nil
}

func (a *Adapter) EnableWarmup(ctx context.Context, accountID string, settings domain.WarmupSettings) error {
	if _, err := parseID(accountID); err != nil {
		return err
	}
	path := fmt.Sprintf("email-accounts/%s/warmup", accountID)
	return a.client.Do(ctx, "enable warmup", http.MethodPost, path, nil, settings, nil)
}

func (a *Adapter) ListCampaignMembers(ctx context.Context, campaignID string) ([]string, error) {
	var raw []struct {
		ID provider.FlexString `json:"id"`
	}
	path := fmt.Sprintf("campaigns/%s/email-accounts", url.PathEscape(campaignID))
	q := url.Values{}
	q.Set("limit", strconv.Itoa(campaignMemberLimit))
	if err := a.client.Do(ctx, "list campaign accounts", http.MethodGet, path, q, nil, &raw); err != nil {
		return nil, err
	}
	if len(raw) >= campaignMemberLimit {
		logger.Warn("smartlead: campaign member listing hit the limit", "campaign_id", campaignID, "limit", campaignMemberLimit)
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
	id, err := parseID(accountID)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("campaigns/%s/email-accounts", url.PathEscape(campaignID))
	body := map[string][]int{"email_account_ids": {id}}
	return a.client.Do(ctx, "add campaign account", http.MethodPost, path, nil, body, nil)
}

func (a *Adapter) RemoveFromCampaign(ctx context.Context, campaignID, accountID string) error {
	if _, err := parseID(accountID); err != nil {
		return err
	}
	path := fmt.Sprintf("campaigns/%s/email-accounts/%s", url.PathEscape(campaignID), accountID)
	return a.client.Do(ctx, "remove campaign account", http.MethodDelete, path, nil, nil, nil)
}

func parseID(accountID string) (int, error) {
	id, err := strconv.Atoi(accountID)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("smartlead account %q: %w", accountID, provider.ErrInvalidAccountID)
	}
	return id, nil
}
