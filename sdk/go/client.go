package caselinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal caseline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "v1",
		Timeout:  10 * time.Second,
	}
}

// Case represents the API case model.
type Case struct {
	ID                 string   `json:"id"`
	Correlative        string   `json:"correlative"`
	Type               string   `json:"type"`
	Status             string   `json:"status"`
	Justification      string   `json:"justification,omitempty"`
	IncidentDate       string   `json:"incident_date"`
	CategoryID         string   `json:"category_id,omitempty"`
	OtherCategory      string   `json:"other_category,omitempty"`
	RoomName           string   `json:"room_name,omitempty"`
	ClassroomID        string   `json:"classroom_id,omitempty"`
	StudentName        string   `json:"student_name,omitempty"`
	ImageURL           string   `json:"image_url,omitempty"`
	Description        string   `json:"description"`
	CreatedBy          string   `json:"created_by"`
	Version            int64    `json:"version"`
	CreatedAt          string   `json:"created_at"`
	UpdatedAt          string   `json:"updated_at"`
	AllowedTransitions []string `json:"allowed_transitions"`
}

// NewCase is the payload for registering a case.
type NewCase struct {
	Type          string `json:"type"`
	IncidentDate  string `json:"incident_date"`
	CategoryID    string `json:"category_id,omitempty"`
	OtherCategory string `json:"other_category,omitempty"`
	RoomName      string `json:"room_name,omitempty"`
	ClassroomID   string `json:"classroom_id,omitempty"`
	StudentName   string `json:"student_name,omitempty"`
	ImageURL      string `json:"image_url,omitempty"`
	Description   string `json:"description"`
}

// LogEntry is one audit record of a case.
type LogEntry struct {
	ID        string `json:"id"`
	Seq       int64  `json:"seq"`
	CaseID    string `json:"case_id"`
	Status    string `json:"status"`
	Comment   string `json:"comment"`
	System    bool   `json:"system"`
	ActorID   string `json:"actor_id"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type Stats struct {
	Total     int            `json:"total"`
	Pending   int            `json:"pending"`
	Resolved  int            `json:"resolved"`
	ThisMonth int            `json:"this_month"`
	ByStatus  map[string]int `json:"by_status"`
	ByRoom    map[string]int `json:"by_room"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedCases wraps list responses with cursors.
type PaginatedCases struct {
	Items      []Case `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// CreateCase registers a case.
func (c *Client) CreateCase(ctx context.Context, in NewCase) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodPost, c.path("cases"), in, &resp)
	return resp, err
}

// GetCase fetches a case without marking it read.
func (c *Client) GetCase(ctx context.Context, id string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodGet, c.path("cases/"+url.PathEscape(id)), nil, &resp)
	return resp, err
}

// OpenCase fetches a case; reviewers opening a registered case mark it read.
func (c *Client) OpenCase(ctx context.Context, id string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodPost, c.path("cases/"+url.PathEscape(id)+"/open"), nil, &resp)
	return resp, err
}

// ListCases returns one page of cases. Filters are passed as query params
// (status, type, room_name, from, to, q).
func (c *Client) ListCases(ctx context.Context, filters map[string]string, limit int, cursor string) (PaginatedCases, error) {
	q := url.Values{}
	for k, v := range filters {
		if v != "" {
			q.Set(k, v)
		}
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.path("cases")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedCases
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Transition requests a status change.
func (c *Client) Transition(ctx context.Context, id, status, justification string, referCounseling bool) (Case, error) {
	body := map[string]any{
		"status":        status,
		"justification": justification,
	}
	if referCounseling {
		body["refer_counseling"] = true
	}
	var resp Case
	err := c.do(ctx, http.MethodPost, c.path("cases/"+url.PathEscape(id)+"/transitions"), body, &resp)
	return resp, err
}

// UpdateDescription edits a registered case's description.
func (c *Client) UpdateDescription(ctx context.Context, id, description string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodPatch, c.path("cases/"+url.PathEscape(id)), map[string]any{"description": description}, &resp)
	return resp, err
}

func (c *Client) DeleteCase(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.path("cases/"+url.PathEscape(id)), nil, nil)
}

// Logs lists a case's audit log; order is "asc" or "desc".
func (c *Client) Logs(ctx context.Context, caseID, order string) ([]LogEntry, error) {
	endpoint := c.path("cases/" + url.PathEscape(caseID) + "/logs")
	if order != "" {
		endpoint += "?order=" + url.QueryEscape(order)
	}
	var resp struct {
		Items []LogEntry `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// EditLog rewrites a log entry comment and returns the reconciled case.
func (c *Client) EditLog(ctx context.Context, logID, comment string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodPatch, c.path("logs/"+url.PathEscape(logID)), map[string]any{"comment": comment}, &resp)
	return resp, err
}

// DeleteLog removes a log entry and returns the reconciled case.
func (c *Client) DeleteLog(ctx context.Context, logID string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodDelete, c.path("logs/"+url.PathEscape(logID)), nil, &resp)
	return resp, err
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var resp Stats
	err := c.do(ctx, http.MethodGet, c.path("stats"), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) path(p string) string {
	return strings.Trim(c.BasePath, "/") + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
