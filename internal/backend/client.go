package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"resty.dev/v3"

	"cardexport/internal/auth"
	"cardexport/internal/records"
)

// Error is a failed backend call. Status is 0 when no response arrived.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return "backend: " + e.Message
	}
	return fmt.Sprintf("backend error %d: %s", e.Status, e.Message)
}

// NotFound reports whether err is a backend 404.
func NotFound(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Status == http.StatusNotFound
}

// Filter narrows a student listing.
type Filter struct {
	InstituteID string
	Class       string
	Section     string
}

// Client calls the school REST backend on behalf of a session.
type Client struct {
	BaseURL string
	http    *resty.Client
}

// New creates a client with configurable timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		http: resty.New().
			SetTimeout(timeout).
			SetRetryCount(2).
			SetRetryWaitTime(200 * time.Millisecond).
			SetRetryMaxWaitTime(2 * time.Second).
			SetHeader("Accept", "application/json"),
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.http.Close()
}

// Students lists the students visible to the session.
func (c *Client) Students(ctx context.Context, sess auth.Session, f Filter) ([]records.Person, error) {
	q := url.Values{}
	inst := f.InstituteID
	if inst == "" {
		inst = sess.InstituteID
	}
	if inst != "" {
		q.Set("institute_id", inst)
	}
	if f.Class != "" {
		q.Set("class", f.Class)
	}
	if f.Section != "" {
		q.Set("section", f.Section)
	}
	var out []records.Person
	if err := c.get(ctx, sess, "/students", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Student fetches one student.
func (c *Client) Student(ctx context.Context, sess auth.Session, id string) (records.Person, error) {
	var out records.Person
	err := c.get(ctx, sess, "/students/"+url.PathEscape(id), nil, &out)
	return out, err
}

// Institute fetches an institute profile.
func (c *Client) Institute(ctx context.Context, sess auth.Session, id string) (records.Institute, error) {
	var out records.Institute
	err := c.get(ctx, sess, "/institutes/"+url.PathEscape(id), nil, &out)
	return out, err
}

// AdmitEvent fetches an admit-card event with its exam schedule.
func (c *Client) AdmitEvent(ctx context.Context, sess auth.Session, id string) (records.AdmitEvent, error) {
	var out records.AdmitEvent
	err := c.get(ctx, sess, "/admit-cards/events/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) get(ctx context.Context, sess auth.Session, path string, q url.Values, out any) error {
	req := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true)
	if sess.Token != "" {
		req.SetAuthToken(sess.Token)
	}
	endpoint := c.BaseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	resp, err := req.Get(endpoint)
	if err != nil {
		return &Error{Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return &Error{Status: resp.StatusCode(), Message: fmt.Sprintf("read response: %v", err)}
	}
	if resp.StatusCode() >= 300 {
		return &Error{Status: resp.StatusCode(), Message: errorMessage(body, resp.Status())}
	}
	if err := json.Unmarshal(unwrap(body), out); err != nil {
		return &Error{Status: resp.StatusCode(), Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

// unwrap strips the {"data": ...} envelope some endpoints use.
func unwrap(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return trimmed
	}
	if data, ok := env["data"]; ok {
		return data
	}
	return trimmed
}

// errorMessage prefers the backend's "error", "message" or "detail" field over the bare status line.
func errorMessage(body []byte, status string) string {
	var env struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if json.Unmarshal(body, &env) == nil {
		for _, s := range []string{env.Error, env.Message, env.Detail} {
			if s != "" {
				return s
			}
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" && len(s) < 200 {
		return s
	}
	return status
}
