package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HTTPClient talks JSON over HTTP to the chat service. Transient failures
// (429 and 5xx) are retried a bounded number of times with exponential
// backoff, honouring Retry-After.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

type accountPayload struct {
	Token string                 `json:"token"`
	Users map[string]userPayload `json:"users"`
}

type userPayload struct {
	Name     string                    `json:"name"`
	Channels map[string]channelPayload `json:"channels"`
}

type channelPayload struct {
	Name  string   `json:"name"`
	Users []string `json:"users"`
	Last  int64    `json:"last"`
}

func (c *HTTPClient) Login(ctx context.Context, credential string) (*Account, error) {
	var out accountPayload
	body := map[string]any{"pass": credential}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/session", body, &out); err != nil {
		return nil, err
	}
	c.token = out.Token

	account := &Account{
		Token: out.Token,
		Users: make(map[string]User, len(out.Users)),
	}
	for name, up := range out.Users {
		if up.Name == "" {
			up.Name = name
		}
		user := &httpUser{client: c, name: up.Name}
		user.channels = make(map[string]Channel, len(up.Channels))
		for chanName, cp := range up.Channels {
			if cp.Name == "" {
				cp.Name = chanName
			}
			user.channels[cp.Name] = &httpChannel{
				client: c,
				user:   up.Name,
				name:   cp.Name,
				users:  append([]string(nil), cp.Users...),
				last:   cp.Last,
			}
		}
		account.Users[up.Name] = user
	}
	return account, nil
}

func (c *HTTPClient) Poll(ctx context.Context, after string, users []string) (*PollResponse, error) {
	q := url.Values{}
	if after != "" {
		q.Set("after", after)
	}
	q.Set("users", strings.Join(users, ","))
	var out PollResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/chats?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	if out.Chats == nil {
		out.Chats = map[string][]RawMessage{}
	}
	return &out, nil
}

type httpUser struct {
	client   *HTTPClient
	name     string
	channels map[string]Channel
}

func (u *httpUser) Name() string { return u.name }

func (u *httpUser) Channels() map[string]Channel { return u.channels }

func (u *httpUser) Tell(ctx context.Context, recipient, msg string) error {
	body := map[string]any{"user": u.name, "to": recipient, "msg": msg}
	return u.client.doJSON(ctx, http.MethodPost, "/v1/tells", body, nil)
}

type httpChannel struct {
	client *HTTPClient
	user   string
	name   string
	users  []string
	last   int64
}

func (ch *httpChannel) Name() string { return ch.name }

func (ch *httpChannel) Users() []string { return append([]string(nil), ch.users...) }

func (ch *httpChannel) LastMessageTime() int64 { return ch.last }

func (ch *httpChannel) Send(ctx context.Context, msg string) error {
	body := map[string]any{"user": ch.user, "channel": ch.name, "msg": msg}
	return ch.client.doJSON(ctx, http.MethodPost, "/v1/chats", body, nil)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("X-Correlation-Id", uuid.NewString())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			return json.Unmarshal(payloadBytes, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		return decodeError(resp.StatusCode, payloadBytes)
	}
}

// decodeError maps a rejection body to the structured Error. The service
// reports either {"msg": "..."} or a plain string.
func decodeError(statusCode int, payload []byte) error {
	var errPayload struct {
		Msg string `json:"msg"`
	}
	msg := strings.TrimSpace(string(payload))
	if json.Unmarshal(payload, &errPayload) == nil && errPayload.Msg != "" {
		msg = errPayload.Msg
	}
	if msg == "" {
		msg = http.StatusText(statusCode)
	}
	return &Error{StatusCode: statusCode, Msg: msg}
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
