// Package provider defines the capability interface every outbound-email
// platform adapter implements, plus the pieces adapters share: typed API
// errors, the per-instance tag directory, a JSON-over-HTTP client and a
// platform registry.
//
// Callers outside internal/provider/... depend only on Provider and never
// see a platform's field names.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ignite/inboxbench/internal/config"
	"github.com/ignite/inboxbench/internal/domain"
	"github.com/ignite/inboxbench/internal/pkg/httpretry"
)

// Provider is one workspace on one outbound-email platform.
type Provider interface {
	// Name identifies the platform, e.g. "smartlead".
	Name() string
	// ListAccounts pages through the whole workspace and returns every
	// account with its tag names resolved.
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	// UpdateTags adds and removes tags by name. Adding a present tag or
	// removing an absent one is a no-op. Unknown names are created.
	UpdateTags(ctx context.Context, accountID string, add, remove []string) error
	EnableWarmup(ctx context.Context, accountID string, settings domain.WarmupSettings) error
	ListCampaignMembers(ctx context.Context, campaignID string) ([]string, error)
	AddToCampaign(ctx context.Context, campaignID, accountID string) error
	RemoveFromCampaign(ctx context.Context, campaignID, accountID string) error
}

var (
	// ErrUnsupported is returned for an operation a platform has no API for.
	ErrUnsupported = errors.New("operation not supported by provider")
	// ErrInvalidAccountID is returned when an id does not fit the platform's id format.
	ErrInvalidAccountID = errors.New("invalid account id")
	// ErrUnknownPlatform is returned by New for an unregistered platform name.
	ErrUnknownPlatform = errors.New("unknown platform")
)

// APIError is a non-2xx response from a platform, after retries.
type APIError struct {
	Provider   string
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: API error (status %d): %s", e.Provider, e.Op, e.StatusCode, e.Body)
}

// Retryable reports whether the call failed on a rate limit or server error,
// meaning retries were exhausted rather than the request being rejected.
func (e *APIError) Retryable() bool {
	return httpretry.IsRetryableStatus(e.StatusCode)
}

// IsRetryable reports whether err wraps a retryable *APIError.
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable()
}

// Factory builds an adapter for one workspace.
type Factory func(cfg config.WorkspaceConfig, doer httpretry.HTTPDoer) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a platform available to New. Adapter packages call it from init.
func Register(platform string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[platform]; dup {
		panic("provider: Register called twice for platform " + platform)
	}
	registry[platform] = f
}

// Platforms returns the registered platform names.
func Platforms() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type options struct {
	doer httpretry.HTTPDoer
}

// Option customizes New.
type Option func(*options)

// WithHTTPDoer replaces the retrying HTTP client New would build.
func WithHTTPDoer(d httpretry.HTTPDoer) Option {
	return func(o *options) { o.doer = d }
}

// New builds the adapter registered for cfg.Platform. Unless overridden, the
// adapter talks through a retry client honouring the workspace's timeout,
// attempt count and backoff step.
func New(cfg config.WorkspaceConfig, opts ...Option) (Provider, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Platform]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %s)", ErrUnknownPlatform, cfg.Platform, strings.Join(Platforms(), ", "))
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.doer == nil {
		timeout := cfg.Timeout()
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		var retryOpts []httpretry.Option
		if d := cfg.RetryBaseDelay(); d > 0 {
			retryOpts = append(retryOpts, httpretry.WithBaseDelay(d))
		}
		o.doer = httpretry.NewRetryClient(&http.Client{Timeout: timeout}, cfg.MaxAttempts, retryOpts...)
	}
	return f(cfg, o.doer)
}
