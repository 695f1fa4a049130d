package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ignite/inboxbench/internal/domain"
	"github.com/ignite/inboxbench/internal/pkg/httpretry"
)

const postgrestPageSize = 1000

// PostgRESTStore implements Store over a PostgREST endpoint such as
// Supabase's /rest/v1.
type PostgRESTStore struct {
	baseURL string
	key     string
	table   string
	doer    httpretry.HTTPDoer
}

var _ Store = (*PostgRESTStore)(nil)

// NewPostgRESTStore creates a store. A nil doer uses a retrying default client.
func NewPostgRESTStore(baseURL, key, table string, doer httpretry.HTTPDoer) *PostgRESTStore {
	if table == "" {
		table = DefaultTable
	}
	if doer == nil {
		doer = httpretry.NewRetryClient(nil, 3)
	}
	return &PostgRESTStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		table:   table,
		doer:    doer,
	}
}

// PostgRESTError is a non-2xx response from the store.
type PostgRESTError struct {
	StatusCode int
	Body       string
}

func (e *PostgRESTError) Error() string {
	return fmt.Sprintf("postgrest: status %d: %s", e.StatusCode, e.Body)
}

// Upsert posts rows with merge-duplicates resolution on (workspace, id).
func (s *PostgRESTStore) Upsert(ctx context.Context, rows []domain.SnapshotRow) error {
	if len(rows) == 0 {
		return nil
	}
	payload, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode snapshot rows: %w", err)
	}
	q := url.Values{"on_conflict": {"workspace,id"}}
	resp, err := s.do(ctx, http.MethodPost, q, payload, map[string]string{
		"Prefer": "resolution=merge-duplicates,return=minimal",
	})
	if err != nil {
		return fmt.Errorf("upsert snapshot rows: %w", err)
	}
	resp.Body.Close()
	return nil
}

func (s *PostgRESTStore) SendingVolume(ctx context.Context, workspace string) (int, error) {
	var rows []struct {
		DailyLimit int `json:"daily_limit"`
	}
	if err := s.list(ctx, workspace, domain.StatusSending, "daily_limit", &rows); err != nil {
		return 0, fmt.Errorf("sending volume: %w", err)
	}
	total := 0
	for _, r := range rows {
		total += r.DailyLimit
	}
	return total, nil
}

func (s *PostgRESTStore) ListByStatus(ctx context.Context, workspace string, status domain.Status) ([]domain.SnapshotRow, error) {
	var rows []domain.SnapshotRow
	if err := s.list(ctx, workspace, status, "*", &rows); err != nil {
		return nil, fmt.Errorf("list snapshot rows: %w", err)
	}
	return rows, nil
}

// list pages through a filtered select into out, a pointer to a slice.
func (s *PostgRESTStore) list(ctx context.Context, workspace string, status domain.Status, sel string, out interface{}) error {
	var all []json.RawMessage
	for offset := 0; ; offset += postgrestPageSize {
		q := url.Values{
			"select":    {sel},
			"workspace": {"eq." + workspace},
			"order":     {"id.asc"},
			"limit":     {strconv.Itoa(postgrestPageSize)},
			"offset":    {strconv.Itoa(offset)},
		}
		if status != "" {
			q.Set("status", "eq."+string(status))
		}
		resp, err := s.do(ctx, http.MethodGet, q, nil, nil)
		if err != nil {
			return err
		}
		var page []json.RawMessage
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		all = append(all, page...)
		if len(page) < postgrestPageSize {
			break
		}
	}
	raw, err := json.Marshal(all)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (s *PostgRESTStore) do(ctx context.Context, method string, q url.Values, body []byte, headers map[string]string) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+"/"+s.table+"?"+q.Encode(), rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.doer.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &PostgRESTError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return resp, nil
}
