// Package slack adapts github.com/slack-go/slack to the relay: the emoji
// directory, chat.postMessage, request signature verification and Events API
// envelopes.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	slackgo "github.com/slack-go/slack"
	"go.uber.org/zap"

	"emojipapertrail/relay/internal/model"
	"emojipapertrail/relay/pkg/retry"
)

const (
	DefaultBaseURL = "https://slack.com/api/"

	adminEmojiPageSize = 1000
)

// ErrUnexpectedResponse covers bodies that do not decode into the expected
// shape.
var ErrUnexpectedResponse = errors.New("unexpected slack api response")

// AuthTestResponse describes the identity behind a token.
type AuthTestResponse = slackgo.AuthTestResponse

// IsRateLimited is the retry predicate for API calls. A 429 without a
// Retry-After header surfaces as a plain status error and still counts.
func IsRateLimited(err error) bool {
	var rl *slackgo.RateLimitedError
	if errors.As(err, &rl) {
		return true
	}
	var status slackgo.StatusCodeError
	return errors.As(err, &status) && status.Code == http.StatusTooManyRequests
}

// RetryAfter returns the Retry-After delay carried by a rate-limited reply.
func RetryAfter(err error) time.Duration {
	var rl *slackgo.RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

// APIRetryPolicy retries rate-limited calls up to five times, following the
// server's Retry-After hint.
func APIRetryPolicy() retry.Policy {
	p := retry.Exponential(6, IsRateLimited)
	p.InitialInterval = time.Second
	p.MaxInterval = 30 * time.Second
	p.RetryAfter = RetryAfter
	return p
}

// Client issues Web API calls with a per-call token. Every call runs under
// the retry policy.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      retry.Policy
	logger     *zap.Logger
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		c.baseURL = u
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.retry = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      APIRetryPolicy(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// api binds token to a slack-go client. Tokens differ per installation, so a
// client is built for each call.
func (c *Client) api(token string) *slackgo.Client {
	return slackgo.New(token,
		slackgo.OptionAPIURL(c.baseURL),
		slackgo.OptionHTTPClient(c.httpClient),
	)
}

func (c *Client) do(ctx context.Context, method string, op func(ctx context.Context) error) error {
	return c.retry.Do(ctx, func(ctx context.Context) error {
		err := op(ctx)
		if IsRateLimited(err) {
			c.logger.Warn("slack rate limited",
				zap.String("method", method),
				zap.Duration("retry_after", RetryAfter(err)),
			)
		}
		return err
	})
}

// ListEmoji returns the workspace emoji directory (emoji.list).
func (c *Client) ListEmoji(ctx context.Context, token string) (map[string]model.EmojiListEntry, error) {
	c.logger.Info("fetching emoji list")

	var emoji map[string]string
	err := c.do(ctx, "emoji.list", func(ctx context.Context) error {
		var err error
		emoji, err = c.api(token).GetEmojiContext(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("slack emoji.list: %w", err)
	}
	if emoji == nil {
		return nil, fmt.Errorf("%w: emoji.list returned no emoji map", ErrUnexpectedResponse)
	}

	out := make(map[string]model.EmojiListEntry, len(emoji))
	for name, u := range emoji {
		out[name] = model.EmojiListEntry{Name: name, URL: u}
	}
	return out, nil
}

type adminEmojiPage struct {
	slackgo.SlackResponse
	Emoji map[string]struct {
		URL        string `json:"url"`
		UploadedBy string `json:"uploaded_by"`
	} `json:"emoji"`
}

// ListAdminEmoji returns the enterprise emoji directory (admin.emoji.list),
// following cursors until the last page. Entries carry the uploader.
func (c *Client) ListAdminEmoji(ctx context.Context, token string) (map[string]model.EmojiListEntry, error) {
	c.logger.Info("fetching admin emoji list")

	out := make(map[string]model.EmojiListEntry)
	cursor := ""
	for page := 1; ; page++ {
		var resp *adminEmojiPage
		err := c.do(ctx, "admin.emoji.list", func(ctx context.Context) error {
			var err error
			resp, err = c.fetchAdminEmojiPage(ctx, token, cursor)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("slack admin.emoji.list page %d: %w", page, err)
		}

		for name, e := range resp.Emoji {
			out[name] = model.EmojiListEntry{Name: name, URL: e.URL, UploadedBy: e.UploadedBy}
		}

		cursor = resp.ResponseMetadata.Cursor
		if cursor == "" {
			return out, nil
		}
	}
}

// fetchAdminEmojiPage fetches one page of admin.emoji.list, which slack-go does not
// cover. Failures are reported with slack-go's error types so callers and the
// retry policy treat every method alike.
func (c *Client) fetchAdminEmojiPage(ctx context.Context, token, cursor string) (*adminEmojiPage, error) {
	params := url.Values{"limit": {strconv.Itoa(adminEmojiPageSize)}}
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"admin.emoji.list?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			return nil, &slackgo.RateLimitedError{RetryAfter: time.Duration(secs) * time.Second}
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, slackgo.StatusCodeError{Code: resp.StatusCode, Status: resp.Status}
	}

	var page adminEmojiPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	if err := page.Err(); err != nil {
		return nil, err
	}
	if !page.Ok {
		return nil, slackgo.SlackErrorResponse{Err: "unknown_error"}
	}
	return &page, nil
}

// PostMessageResponse identifies the posted message.
type PostMessageResponse struct {
	Channel string
	TS      string
}

func (c *Client) PostMessage(ctx context.Context, token string, msg Message) (*PostMessageResponse, error) {
	var resp PostMessageResponse
	err := c.do(ctx, "chat.postMessage", func(ctx context.Context) error {
		var err error
		resp.Channel, resp.TS, err = c.api(token).PostMessageContext(ctx, msg.Channel, msg.options()...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("slack chat.postMessage: %w", err)
	}
	return &resp, nil
}

// AuthTest resolves the token's identity (auth.test). The OAuth access
// response does not carry the bot id, this does.
func (c *Client) AuthTest(ctx context.Context, token string) (*AuthTestResponse, error) {
	var resp *AuthTestResponse
	err := c.do(ctx, "auth.test", func(ctx context.Context) error {
		var err error
		resp, err = c.api(token).AuthTestContext(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("slack auth.test: %w", err)
	}
	return resp, nil
}
