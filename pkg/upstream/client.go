package upstream

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
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jdziat/engagement-jobs/pkg/core"
	"github.com/jdziat/engagement-jobs/pkg/metrics"
)

const userFields = "description,location,public_metrics,verified"

// maxBodySize bounds how much of a response is read.
const maxBodySize = 4 << 20

// ClientConfig configures the HTTP client.
type ClientConfig struct {
	BaseURL     string
	BearerToken string
	RPS         float64
	Burst       int
	Timeout     time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	// MaxInlineWait is the longest rate-limit hint the client sleeps
	// through itself. Longer hints surface as *RateLimitedError.
	MaxInlineWait time.Duration
	PageSize      int
}

// DefaultClientConfig returns defaults for the X API v2.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:       "https://api.twitter.com/2",
		RPS:           2,
		Burst:         10,
		Timeout:       15 * time.Second,
		MaxAttempts:   4,
		BaseBackoff:   500 * time.Millisecond,
		MaxInlineWait: 5 * time.Second,
		PageSize:      100,
	}
}

// HTTPClient is a bearer-token client for the X API v2 engagement endpoints.
type HTTPClient struct {
	cfg        ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

var _ Fetcher = (*HTTPClient)(nil)

// NewHTTPClient creates a client. Zero config fields take defaults.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	def := DefaultClientConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxInlineWait < 0 {
		cfg.MaxInlineWait = 0
	}
	if cfg.PageSize <= 0 || cfg.PageSize > 100 {
		cfg.PageSize = def.PageSize
	}
	return &HTTPClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    newLimiter(cfg.RPS, cfg.Burst),
		logger:     slog.Default(),
	}
}

// WithHTTPClient replaces the transport. Intended for tests.
func (c *HTTPClient) WithHTTPClient(hc *http.Client) *HTTPClient {
	c.httpClient = hc
	return c
}

// WithLogger sets the client's logger.
func (c *HTTPClient) WithLogger(l *slog.Logger) *HTTPClient {
	if l != nil {
		c.logger = l
	}
	return c
}

type apiUser struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Username      string `json:"username"`
	Description   string `json:"description"`
	Location      string `json:"location"`
	Verified      bool   `json:"verified"`
	PublicMetrics struct {
		FollowersCount int64 `json:"followers_count"`
	} `json:"public_metrics"`
}

func (u apiUser) profile() core.Profile {
	return core.Profile{
		UserID:         u.ID,
		Username:       u.Username,
		Name:           u.Name,
		Bio:            u.Description,
		Location:       u.Location,
		FollowersCount: u.PublicMetrics.FollowersCount,
		Verified:       u.Verified,
	}
}

type apiTweet struct {
	ID            string    `json:"id"`
	AuthorID      string    `json:"author_id"`
	CreatedAt     time.Time `json:"created_at"`
	PublicMetrics struct {
		LikeCount       int64 `json:"like_count"`
		RetweetCount    int64 `json:"retweet_count"`
		ReplyCount      int64 `json:"reply_count"`
		QuoteCount      int64 `json:"quote_count"`
		ImpressionCount int64 `json:"impression_count"`
	} `json:"public_metrics"`
}

type apiMeta struct {
	NextToken   string `json:"next_token"`
	ResultCount int    `json:"result_count"`
}

type apiError struct {
	Title  string `json:"title"`
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

// FetchPage fetches one page of engagements for the request's job type.
func (c *HTTPClient) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	switch req.Type {
	case core.JobRetweets:
		return c.fetchUsers(ctx, "retweeted_by", req, c.cfg.BearerToken)
	case core.JobLikes:
		if req.AccessToken == "" {
			return nil, fmt.Errorf("%w: liking users requires a delegated token", ErrAuthFailed)
		}
		return c.fetchUsers(ctx, "liking_users", req, req.AccessToken)
	case core.JobQuotes:
		q := c.tweetQuery(req.Cursor, "pagination_token")
		return c.fetchTweets(ctx, "quote_tweets", "/tweets/"+url.PathEscape(req.PostID)+"/quote_tweets", q)
	case core.JobReplies:
		q := c.tweetQuery(req.Cursor, "next_token")
		q.Set("query", "conversation_id:"+req.PostID+" is:reply")
		return c.fetchTweets(ctx, "replies", "/tweets/search/recent", q)
	}
	return nil, fmt.Errorf("%w: %q has no engagement pages", core.ErrUnknownJobType, req.Type)
}

func (c *HTTPClient) tweetQuery(cursor, cursorParam string) url.Values {
	q := url.Values{}
	q.Set("max_results", strconv.Itoa(c.cfg.PageSize))
	q.Set("tweet.fields", "created_at,author_id,public_metrics")
	q.Set("expansions", "author_id")
	q.Set("user.fields", userFields)
	if cursor != "" {
		q.Set(cursorParam, cursor)
	}
	return q
}

func (c *HTTPClient) fetchUsers(ctx context.Context, endpoint string, req PageRequest, token string) (*Page, error) {
	q := url.Values{}
	q.Set("max_results", strconv.Itoa(c.cfg.PageSize))
	q.Set("user.fields", userFields)
	if req.Cursor != "" {
		q.Set("pagination_token", req.Cursor)
	}

	var raw struct {
		Data   []apiUser  `json:"data"`
		Meta   apiMeta    `json:"meta"`
		Errors []apiError `json:"errors"`
	}
	path := "/tweets/" + url.PathEscape(req.PostID) + "/" + endpoint
	if err := c.getJSON(ctx, endpoint, path, q, token, &raw); err != nil {
		return nil, err
	}
	if len(raw.Data) == 0 && notFound(raw.Errors) {
		return nil, ErrNotFound
	}

	page := &Page{NextCursor: raw.Meta.NextToken, HasMore: raw.Meta.NextToken != ""}
	for _, u := range raw.Data {
		page.Items = append(page.Items, Item{User: u.profile()})
	}
	return page, nil
}

func (c *HTTPClient) fetchTweets(ctx context.Context, endpoint, path string, q url.Values) (*Page, error) {
	var raw struct {
		Data     []apiTweet `json:"data"`
		Includes struct {
			Users []apiUser `json:"users"`
		} `json:"includes"`
		Meta   apiMeta    `json:"meta"`
		Errors []apiError `json:"errors"`
	}
	if err := c.getJSON(ctx, endpoint, path, q, c.cfg.BearerToken, &raw); err != nil {
		return nil, err
	}
	if len(raw.Data) == 0 && notFound(raw.Errors) {
		return nil, ErrNotFound
	}

	users := make(map[string]apiUser, len(raw.Includes.Users))
	for _, u := range raw.Includes.Users {
		users[u.ID] = u
	}

	page := &Page{NextCursor: raw.Meta.NextToken, HasMore: raw.Meta.NextToken != ""}
	for _, t := range raw.Data {
		u, ok := users[t.AuthorID]
		if !ok {
			u = apiUser{ID: t.AuthorID}
		}
		page.Items = append(page.Items, Item{
			User:      u.profile(),
			EventID:   t.ID,
			CreatedAt: t.CreatedAt,
			ViewCount: t.PublicMetrics.ImpressionCount,
		})
	}
	return page, nil
}

// FetchMetrics fetches the public counters of a post.
func (c *HTTPClient) FetchMetrics(ctx context.Context, postID string) (*core.PostMetrics, error) {
	q := url.Values{}
	q.Set("tweet.fields", "public_metrics")

	var raw struct {
		Data   *apiTweet  `json:"data"`
		Errors []apiError `json:"errors"`
	}
	if err := c.getJSON(ctx, "tweet", "/tweets/"+url.PathEscape(postID), q, c.cfg.BearerToken, &raw); err != nil {
		return nil, err
	}
	if raw.Data == nil {
		if notFound(raw.Errors) {
			return nil, ErrNotFound
		}
		return nil, &TransientError{Err: errors.New("metrics response without data")}
	}
	pm := raw.Data.PublicMetrics
	return &core.PostMetrics{
		Likes:    pm.LikeCount,
		Retweets: pm.RetweetCount,
		Replies:  pm.ReplyCount,
		Quotes:   pm.QuoteCount,
		Views:    pm.ImpressionCount,
	}, nil
}

func notFound(errs []apiError) bool {
	for _, e := range errs {
		if strings.Contains(e.Type, "resource-not-found") || strings.Contains(e.Title, "Not Found") {
			return true
		}
	}
	return false
}

func (c *HTTPClient) getJSON(ctx context.Context, endpoint, path string, q url.Values, token string, out any) error {
	u := c.cfg.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.doWithRetry(ctx, endpoint, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &TransientError{Err: fmt.Errorf("decode %s: %w", endpoint, err)}
	}
	return nil
}

// doWithRetry sends req, retrying network errors and 5xx with exponential
// backoff and sleeping through short rate-limit hints. It returns the body
// of a 2xx response or a classified error.
func (c *HTTPClient) doWithRetry(ctx context.Context, endpoint string, req *http.Request) ([]byte, error) {
	backoff := c.cfg.BaseBackoff
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			metrics.UpstreamRetries.WithLabelValues(endpoint).Inc()
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req.Clone(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			metrics.UpstreamRequests.WithLabelValues(endpoint, "error").Inc()
			lastErr = &TransientError{Err: err}
			if !sleep(ctx, backoff) {
				return nil, ctx.Err()
			}
			backoff *= 2
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		_ = resp.Body.Close()
		metrics.UpstreamRequests.WithLabelValues(endpoint, statusClass(resp.StatusCode)).Inc()
		if readErr != nil {
			lastErr = &TransientError{StatusCode: resp.StatusCode, Err: readErr}
			if !sleep(ctx, backoff) {
				return nil, ctx.Err()
			}
			backoff *= 2
			continue
		}

		classified := classify(endpoint, resp.StatusCode, resp.Header, body, time.Now())
		if classified == nil {
			return body, nil
		}

		if rl, ok := AsRateLimited(classified); ok {
			if rl.RetryAfter > c.cfg.MaxInlineWait || attempt == c.cfg.MaxAttempts {
				return nil, rl
			}
			c.logger.Debug("upstream rate limited, waiting inline",
				"endpoint", endpoint, "retry_after", rl.RetryAfter)
			if !sleep(ctx, max(rl.RetryAfter, backoff)) {
				return nil, ctx.Err()
			}
			backoff *= 2
			lastErr = rl
			continue
		}

		var te *TransientError
		if errors.As(classified, &te) {
			lastErr = te
			if !sleep(ctx, backoff) {
				return nil, ctx.Err()
			}
			backoff *= 2
			continue
		}
		return nil, classified
	}

	if lastErr == nil {
		lastErr = &TransientError{Err: errors.New("no attempts made")}
	}
	return nil, fmt.Errorf("%s failed after %d attempts: %w", endpoint, c.cfg.MaxAttempts, lastErr)
}

func classify(endpoint string, status int, h http.Header, body []byte, now time.Time) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests:
		if usageCapped(body) {
			return ErrQuotaExhausted
		}
		return &RateLimitedError{Endpoint: endpoint, RetryAfter: retryAfter(h, now)}
	case status == http.StatusUnauthorized:
		return ErrAuthFailed
	case status == http.StatusForbidden:
		if usageCapped(body) {
			return ErrQuotaExhausted
		}
		return ErrAuthFailed
	case status == http.StatusBadRequest && bytes.Contains(bytes.ToLower(body), []byte("token")) &&
		(bytes.Contains(body, []byte("pagination")) || bytes.Contains(body, []byte("next_token"))):
		return ErrCursorExpired
	case status >= 500:
		return &TransientError{StatusCode: status, Err: errors.New(http.StatusText(status))}
	}
	return fmt.Errorf("upstream: %s returned status %d", endpoint, status)
}

func usageCapped(body []byte) bool {
	return bytes.Contains(body, []byte("UsageCapExceeded")) || bytes.Contains(body, []byte("usage-capped"))
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
