package tasksync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/resumate-api/internal/domain"
	"github.com/sethvargo/go-retry"
)

const (
	defaultHTTPTimeout = 15 * time.Second
	maxErrorBodyBytes  = 4 << 10
	defaultMaxRetries  = 3
	defaultRetryBase   = 500 * time.Millisecond
)

// HTTPFetcher talks to the task API over HTTP with a bearer token.
// Network errors, 429 and 5xx responses are retried with exponential
// backoff.
type HTTPFetcher struct {
	baseURL *url.URL
	token   string
	client  *http.Client
	backoff func() retry.Backoff
}

// NewHTTPFetcher creates a fetcher for the API at baseURL. A nil client
// uses one with a 15 second timeout.
func NewHTTPFetcher(baseURL, token string, client *http.Client) (*HTTPFetcher, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", baseURL)
	}
	if token == "" {
		return nil, errors.New("access token is required")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPFetcher{
		baseURL: u,
		token:   token,
		client:  client,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(defaultMaxRetries, retry.NewExponential(defaultRetryBase))
		},
	}, nil
}

type taskList struct {
	Tasks []domain.Task `json:"tasks"`
}

type errorBody struct {
	Error string `json:"error"`
}

// ListTasks implements Fetcher.
func (f *HTTPFetcher) ListTasks(ctx context.Context, deviceID string, since *time.Time) ([]domain.Task, error) {
	q := url.Values{}
	if deviceID != "" {
		q.Set("device_id", deviceID)
	}
	if since != nil {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
	}

	var list taskList
	if err := f.do(ctx, http.MethodGet, "/api/tasks", q, &list); err != nil {
		return nil, err
	}
	return list.Tasks, nil
}

// CancelTask implements Fetcher.
func (f *HTTPFetcher) CancelTask(ctx context.Context, id uuid.UUID) error {
	return f.do(ctx, http.MethodPost, "/api/tasks/"+id.String()+"/cancel", nil, nil)
}

// DeleteTask implements Fetcher.
func (f *HTTPFetcher) DeleteTask(ctx context.Context, id uuid.UUID) error {
	return f.do(ctx, http.MethodDelete, "/api/tasks/"+id.String(), nil, nil)
}

func (f *HTTPFetcher) do(ctx context.Context, method, path string, query url.Values, out any) error {
	target := f.baseURL.JoinPath(path)
	target.RawQuery = query.Encode()

	return retry.Do(ctx, f.backoff(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, target.String(), nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+f.token)
		req.Header.Set("Accept", "application/json")

		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return retry.RetryableError(fmt.Errorf("%s %s: %w", method, path, err))
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil || resp.StatusCode == http.StatusNoContent {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
			}
			return nil
		}

		statusErr := responseError(resp)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return retry.RetryableError(statusErr)
		}
		return statusErr
	})
}

// responseError maps an error response to the package errors, keeping the
// server's message.
func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	msg := strings.TrimSpace(string(body))
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && eb.Error != "" {
		msg = eb.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	var kind error
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = ErrUnauthorized
	case http.StatusNotFound:
		kind = ErrNotFound
	case http.StatusConflict:
		kind = ErrConflict
	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}
	return fmt.Errorf("%w: %s", kind, msg)
}

var _ Fetcher = (*HTTPFetcher)(nil)
