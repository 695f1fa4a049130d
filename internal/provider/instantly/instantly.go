// Package instantly adapts the Instantly v2 API to provider.Provider.
//
// Instantly keys accounts by email address, so the account id is the
// address. Tags are custom tags with opaque ids, assigned with the
// toggle-resource call. Campaign membership is the campaign's email_list.
package instantly

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/ignite/inboxbench/internal/config"
	"github.com/ignite/inboxbench/internal/domain"
	"github.com/ignite/inboxbench/internal/pkg/httpretry"
	"github.com/ignite/inboxbench/internal/pkg/logger"
	"github.com/ignite/inboxbench/internal/provider"
)

const (
	DefaultBaseURL  = "https://api.instantly.ai/api/v2"
	defaultPageSize = 100

	// resourceTypeAccount is the toggle-resource type for email accounts.
	resourceTypeAccount = 1
)

func init() {
	provider.Register(config.PlatformInstantly, func(cfg config.WorkspaceConfig, doer httpretry.HTTPDoer) (provider.Provider, error) {
		return New(cfg, doer), nil
	})
}

// Adapter is one Instantly workspace.
type Adapter struct {
	client   *provider.Client
	pageSize int
	tags     *provider.TagDirectory
	index    *provider.AccountIndex

	// campaignMu serializes read-modify-write of campaign email lists.
	campaignMu sync.Mutex
}

// New creates an adapter authenticating with a Bearer token.
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
		client: provider.NewClient(config.PlatformInstantly, baseURL, doer, func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}),
		pageSize: pageSize,
		index:    provider.NewAccountIndex(),
	}
	a.tags = provider.NewTagDirectory(a.listTags, a.createTag)
	return a
}

func (a *Adapter) Name() string { return config.PlatformInstantly }

type account struct {
	Email            string            `json:"email"`
	StatWarmupScore  provider.FlexInt  `json:"stat_warmup_score"`
	DailyLimit       provider.FlexInt  `json:"daily_limit"`
	TimestampCreated provider.FlexTime `json:"timestamp_created"`
}

// normalizeEmail folds an address to the form used as account id, so ids
// from the account list and campaign email lists compare equal.
func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

type accountPage struct {
	Items []account `json:"items"`
}

type tagMapping struct {
	TagID      provider.FlexString `json:"tag_id"`
	ResourceID string              `json:"resource_id"`
}

type tagMappingPage struct {
	Items []tagMapping `json:"items"`
}

// ListAccounts pages with limit/skip. Each page's tag assignments are read
// from custom-tag-mappings and translated to names through the directory.
func (a *Adapter) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	// A listing starts a run; tags renamed or deleted since the last one
	// must not resolve to stale ids.
	a.tags.Invalidate()
	var accounts []domain.Account
	for skip := 0; ; skip += a.pageSize {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(a.pageSize))
		q.Set("skip", strconv.Itoa(skip))

		var page accountPage
		if err := a.client.Do(ctx, "list accounts", http.MethodGet, "accounts", q, nil, &page); err != nil {
			return nil, fmt.Errorf("fetching accounts at skip %d: %w", skip, err)
		}

		batch := make([]domain.Account, 0, len(page.Items))
		for _, raw := range page.Items {
			email := normalizeEmail(raw.Email)
			if email == "" {
				logger.Warn("instantly: dropping account without email")
				continue
			}
			batch = append(batch, domain.Account{
				ID:         email,
				Email:      email,
				Reputation: int(raw.StatWarmupScore),
				DailyLimit: int(raw.DailyLimit),
				CreatedAt:  raw.TimestampCreated.Time,
				Tags:       domain.NewTagSet(),
			})
		}
		if err := a.attachTags(ctx, batch); err != nil {
			return nil, err
		}
		accounts = append(accounts, batch...)

		if len(page.Items) < a.pageSize {
			break
		}
	}
	a.index.Reset(accounts)
	return accounts, nil
}

func (a *Adapter) attachTags(ctx context.Context, batch []domain.Account) error {
	if len(batch) == 0 {
		return nil
	}
	byID := make(map[string]*domain.Account, len(batch))
	ids := make([]string, 0, len(batch))
	for i := range batch {
		byID[batch[i].ID] = &batch[i]
		ids = append(ids, batch[i].ID)
	}

	// An account can carry several tags, so one page of accounts may map
	// to more than a page of mappings.
	for skip := 0; ; skip += a.pageSize {
		q := url.Values{}
		q.Set("resource_ids", strings.Join(ids, ","))
		q.Set("limit", strconv.Itoa(a.pageSize))
		q.Set("skip", strconv.Itoa(skip))
		var mappings tagMappingPage
		if err := a.client.Do(ctx, "list tag mappings", http.MethodGet, "custom-tag-mappings", q, nil, &mappings); err != nil {
			return fmt.Errorf("fetching tag mappings at skip %d: %w", skip, err)
		}
		for _, m := range mappings.Items {
			acc, ok := byID[normalizeEmail(m.ResourceID)]
			if !ok {
				continue
			}
			name, ok, err := a.tags.NameOf(ctx, m.TagID.String())
			if err != nil {
				return err
			}
			if !ok {
				logger.Debug("instantly: mapping references unknown tag", "tag_id", m.TagID)
				continue
			}
			acc.Tags.Add(name)
		}
		if len(mappings.Items) < a.pageSize {
			return nil
		}
	}
}

type customTag struct {
	ID    provider.FlexString `json:"id"`
	Label string              `json:"label"`
	Name  string              `json:"name"`
}

func (t customTag) tag() provider.Tag {
	name := t.Label
	if name == "" {
		name = t.Name
	}
	return provider.Tag{ID: t.ID.String(), Name: name}
}

func (a *Adapter) listTags(ctx context.Context) ([]provider.Tag, error) {
	var tags []provider.Tag
	for skip := 0; ; skip += a.pageSize {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(a.pageSize))
		q.Set("skip", strconv.Itoa(skip))
		var page struct {
			Items []customTag `json:"items"`
		}
		if err := a.client.Do(ctx, "list tags", http.MethodGet, "custom-tags", q, nil, &page); err != nil {
			return nil, err
		}
		for _, t := range page.Items {
			tags = append(tags, t.tag())
		}
		if len(page.Items) < a.pageSize {
			return tags, nil
		}
	}
}

func (a *Adapter) createTag(ctx context.Context, name string) (provider.Tag, error) {
	body := map[string]string{"label": name, "color": provider.ColorFor(name)}
	var created customTag
	if err := a.client.Do(ctx, "create tag", http.MethodPost, "custom-tags", nil, body, &created); err != nil {
		return provider.Tag{}, err
	}
	if created.ID == "" {
		return provider.Tag{}, fmt.Errorf("instantly create tag %q: response carried no id", name)
	}
	logger.Info("instantly: created tag", "tag", name, "tag_id", created.ID)
	t := created.tag()
	if t.Name == "" {
		t.Name = name
	}
	return t, nil
}

type toggleRequest struct {
	TagIDs       []string `json:"tag_ids"`
	ResourceType int      `json:"resource_type"`
	ResourceIDs  []string `json:"resource_ids"`
	Assign       bool     `json:"assign"`
}

func (a *Adapter) UpdateTags(ctx context.Context, accountID string, add, remove []string) error {
	accountID = normalizeEmail(accountID)
	if !strings.Contains(accountID, "@") {
		return fmt.Errorf("instantly account %q: %w", accountID, provider.ErrInvalidAccountID)
	}
	add, remove = a.index.Delta(accountID, add, remove)

	var removeIDs []string
	for _, name := range remove {
		id, ok, err := a.tags.Lookup(ctx, name)
		if err != nil {
			return err
		}
		if ok {
			removeIDs = append(removeIDs, id)
		}
	}
	var addIDs []string
	for _, name := range add {
		id, err := a.tags.Ensure(ctx, name)
		if err != nil {
			return err
		}
		addIDs = append(addIDs, id)
	}

	if len(removeIDs) > 0 {
		body := toggleRequest{TagIDs: removeIDs, ResourceType: resourceTypeAccount, ResourceIDs: []string{accountID}, Assign: false}
		if err := a.client.Do(ctx, "unassign tags", http.MethodPost, "custom-tags/toggle-resource", nil, body, nil); err != nil {
			return err
		}
		a.index.Apply(accountID, nil, remove)
	}
	if len(addIDs) > 0 {
		body := toggleRequest{TagIDs: addIDs, ResourceType: resourceTypeAccount, ResourceIDs: []string{accountID}, Assign: true}
		if err := a.client.Do(ctx, "assign tags", http.MethodPost, "custom-tags/toggle-resource", nil, body, nil); err != nil {
			return err
		}
		a.index.Apply(accountID, add, nil)
	}
	return nil
}

type warmupConfig struct {
	Limit     int `json:"limit"`
	Increment int `json:"increment"`
	ReplyRate int `json:"reply_rate"`
}

// EnableWarmup writes the ramp settings onto the account, then switches
// warm-up on unless the settings disable it.
func (a *Adapter) EnableWarmup(ctx context.Context, accountID string, settings domain.WarmupSettings) error {
	accountID = normalizeEmail(accountID)
	if !strings.Contains(accountID, "@") {
		return fmt.Errorf("instantly account %q: %w", accountID, provider.ErrInvalidAccountID)
	}
	patch := map[string]warmupConfig{"warmup": {
		Limit:     settings.TotalPerDay,
		Increment: settings.DailyRampup,
		ReplyRate: settings.ReplyRatePercent,
	}}
	if err := a.client.Do(ctx, "update warmup", http.MethodPatch, "accounts/"+url.PathEscape(accountID), nil, patch, nil); err != nil {
		return err
	}
	if !settings.Enabled {
		return nil
	}
	body := map[string][]string{"emails": {accountID}}
	return a.client.Do(ctx, "enable warmup", http.MethodPost, "accounts/warmup/enable", nil, body, nil)
}

type campaign struct {
	EmailList []string `json:"email_list"`
}

func (a *Adapter) getCampaign(ctx context.Context, campaignID string) (campaign, error) {
	var c campaign
	err := a.client.Do(ctx, "get campaign", http.MethodGet, "campaigns/"+url.PathEscape(campaignID), nil, nil, &c)
	return c, err
}

func (a *Adapter) ListCampaignMembers(ctx context.Context, campaignID string) ([]string, error) {
	c, err := a.getCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	members := make([]string, 0, len(c.EmailList))
	for _, e := range c.EmailList {
		if e = normalizeEmail(e); e != "" {
			members = append(members, e)
		}
	}
	return members, nil
}

func (a *Adapter) AddToCampaign(ctx context.Context, campaignID, accountID string) error {
	return a.editCampaign(ctx, campaignID, func(list []string) ([]string, bool) {
		for _, e := range list {
			if strings.EqualFold(e, accountID) {
				return list, false
			}
		}
		return append(list, accountID), true
	})
}

func (a *Adapter) RemoveFromCampaign(ctx context.Context, campaignID, accountID string) error {
	return a.editCampaign(ctx, campaignID, func(list []string) ([]string, bool) {
		kept := make([]string, 0, len(list))
		for _, e := range list {
			if !strings.EqualFold(e, accountID) {
				kept = append(kept, e)
			}
		}
		return kept, len(kept) != len(list)
	})
}

func (a *Adapter) editCampaign(ctx context.Context, campaignID string, edit func([]string) ([]string, bool)) error {
	a.campaignMu.Lock()
	defer a.campaignMu.Unlock()

	c, err := a.getCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	list, changed := edit(c.EmailList)
	if !changed {
		return nil
	}
	body := campaign{EmailList: list}
	return a.client.Do(ctx, "update campaign", http.MethodPatch, "campaigns/"+url.PathEscape(campaignID), nil, body, nil)
}
