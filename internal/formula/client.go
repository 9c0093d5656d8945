package formula

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config configures the catalog client.
type Config struct {
	// BaseURL is the deployed web-app endpoint of the spreadsheet API.
	BaseURL string
	// APIKey is an optional shared key passed on every request.
	APIKey string
	// Timeout bounds a single HTTP attempt (default 10s).
	Timeout time.Duration
	// RetryMax bounds GET retries on transient failures (default 3).
	RetryMax int
}

// Client talks to the remote formula catalog.
//
// Reads go straight to the spreadsheet API; Append relays through the
// same endpoint's form-submission handler, which assigns the row id and
// timestamp. The client holds no cache: every call is a fresh fetch.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

func NewClient(cfg Config, log *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("catalog base_url is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}, nil
}

// All fetches every record in catalog order.
func (c *Client) All(ctx context.Context) ([]Record, error) {
	var out []Record
	if err := c.getJSON(ctx, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Since returns records with CreatedAt >= t, newest first.
// Records without a parseable timestamp are skipped.
func (c *Client) Since(ctx context.Context, t time.Time) ([]Record, error) {
	all, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(all))
	for _, r := range all {
		if r.CreatedAt.IsZero() {
			continue
		}
		if !r.CreatedAt.Before(t) {
			out = append(out, r)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// Window returns records with from <= CreatedAt < to, newest first.
func (c *Client) Window(ctx context.Context, from, to time.Time) ([]Record, error) {
	all, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(all))
	for _, r := range all {
		if r.CreatedAt.IsZero() {
			continue
		}
		if !r.CreatedAt.Before(from) && r.CreatedAt.Before(to) {
			out = append(out, r)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// Get fetches a single record by id.
func (c *Client) Get(ctx context.Context, id string) (Record, error) {
	var out Record
	if err := c.getJSON(ctx, url.Values{"id": {id}}, &out); err != nil {
		return Record{}, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return Record{}, ErrNotFound
	}
	return out, nil
}

// Search matches records by title or tag text.
func (c *Client) Search(ctx context.Context, query string) ([]Record, error) {
	var out []Record
	if err := c.getJSON(ctx, url.Values{"search": {query}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ByCategory lists records carrying the given category label.
func (c *Client) ByCategory(ctx context.Context, category string) ([]Record, error) {
	var out []Record
	if err := c.getJSON(ctx, url.Values{"type": {category}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Random fetches one random record.
func (c *Client) Random(ctx context.Context) (Record, error) {
	var out Record
	if err := c.getJSON(ctx, url.Values{"random": {"true"}}, &out); err != nil {
		return Record{}, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return Record{}, ErrNotFound
	}
	return out, nil
}

// Tags fetches the full tag catalog, ordered by id ascending.
// Never cached: admins add tags concurrently and selections must see them.
func (c *Client) Tags(ctx context.Context) ([]Tag, error) {
	var out []Tag
	if err := c.getJSON(ctx, url.Values{"name": {"tagsList"}}, &out); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// appendPayload mirrors the submission handler's expected POST body.
type appendPayload struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	TitleEN  string `json:"title_EN"`
	Formula  string `json:"formula"`
	FormType string `json:"formula_type"`
	Tags     string `json:"tags"`
	ImageURL string `json:"image_url"`
}

type appendResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Result  struct {
		ID string `json:"id"`
	} `json:"result"`
}

// Append relays a draft through the submission endpoint and returns the
// assigned id. No local retry: the append is not idempotent, so retrying
// is left to the user's explicit re-confirm.
func (c *Client) Append(ctx context.Context, d Draft) (string, error) {
	payload := appendPayload{
		Type:     "formula",
		Title:    d.Title,
		TitleEN:  d.TitleEN,
		Formula:  d.Body,
		FormType: strings.Join(d.Categories, ", "),
		Tags:     joinIDs(d.TagIDs),
		ImageURL: d.ImageURL,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAppend, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.requestURL(nil), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAppend, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAppend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: http %d: %s", ErrAppend, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var res appendResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("%w: bad response: %v", ErrAppend, err)
	}
	if !res.Success {
		reason := res.Error
		if reason == "" {
			reason = "rejected"
		}
		return "", fmt.Errorf("%w: %s", ErrAppend, reason)
	}
	return res.Result.ID, nil
}

// getJSON performs a GET with retries on transient failures.
// A non-2xx status or a dead transport both surface as ErrFetch.
func (c *Client) getJSON(ctx context.Context, params url.Values, out any) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(params), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode/100 != 2 {
			err := fmt.Errorf("http %d", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("bad response: %v", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.RetryMax)), ctx))
	if err != nil {
		c.log.Warn("catalog request failed", slog.Any("err", err))
		return fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return nil
}

// RecordURL returns a shareable locator for one record. The api key is
// deliberately left out: these links end up in chat messages.
func (c *Client) RecordURL(id string) string {
	params := url.Values{"action": []string{"get"}, "id": []string{id}}
	sep := "?"
	if strings.Contains(c.cfg.BaseURL, "?") {
		sep = "&"
	}
	return c.cfg.BaseURL + sep + params.Encode()
}

func (c *Client) requestURL(params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	if strings.TrimSpace(c.cfg.APIKey) != "" {
		params.Set("api_key", c.cfg.APIKey)
	}
	if len(params) == 0 {
		return c.cfg.BaseURL
	}
	sep := "?"
	if strings.Contains(c.cfg.BaseURL, "?") {
		sep = "&"
	}
	return c.cfg.BaseURL + sep + params.Encode()
}

func sortNewestFirst(rs []Record) {
	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].CreatedAt.After(rs[j].CreatedAt)
	})
}
