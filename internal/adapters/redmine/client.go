// Package redmine is a thin HTTP wrapper over the Redmine REST API. It
// returns raw tracker records; all interpretation happens in the sync and
// snapshot layers.
package redmine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kiririmode/redmine-burndown/internal/config"
	"github.com/rs/zerolog"
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     zerolog.Logger
	retries int
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.RedmineBaseURL, "/"),
		apiKey:  cfg.RedmineAPIKey,
		http:    &http.Client{Timeout: cfg.RedmineTimeout},
		log:     log,
		retries: retries,
	}
}

// Ref is the {id, name} pair Redmine embeds for related records.
type Ref struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Project struct {
	ID         int64  `json:"id"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
}

type Version struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	DueDate   string `json:"due_date"`
	CreatedOn string `json:"created_on"`
	UpdatedOn string `json:"updated_on"`
}

type JournalDetail struct {
	Property string  `json:"property"`
	Name     string  `json:"name"`
	OldValue *string `json:"old_value"`
	NewValue *string `json:"new_value"`
}

type Journal struct {
	ID        int64           `json:"id"`
	CreatedOn string          `json:"created_on"`
	Details   []JournalDetail `json:"details"`
}

type Issue struct {
	ID             int64     `json:"id"`
	Project        Ref       `json:"project"`
	Parent         *Ref      `json:"parent"`
	FixedVersion   *Ref      `json:"fixed_version"`
	Subject        string    `json:"subject"`
	Status         Ref       `json:"status"`
	AssignedTo     *Ref      `json:"assigned_to"`
	EstimatedHours *float64  `json:"estimated_hours"`
	DueDate        string    `json:"due_date"`
	ClosedOn       string    `json:"closed_on"`
	UpdatedOn      string    `json:"updated_on"`
	Journals       []Journal `json:"journals"`
	Children       []Ref     `json:"children"`
}

type IssuesPage struct {
	Issues     []Issue `json:"issues"`
	TotalCount int     `json:"total_count"`
	Offset     int     `json:"offset"`
	Limit      int     `json:"limit"`
}

// IssueQuery narrows an issue listing. Zero fields are omitted from the
// request.
type IssueQuery struct {
	ProjectID    string
	VersionID    int64
	Limit        int
	Offset       int
	UpdatedSince string // >=timestamp filter for incremental sync
	Journals     bool
	Children     bool
}

func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var out struct {
		Projects   []Project `json:"projects"`
		TotalCount int       `json:"total_count"`
	}
	if err := c.doJSON(ctx, "/projects.json", nil, &out); err != nil {
		return nil, err
	}
	return out.Projects, nil
}

func (c *Client) Project(ctx context.Context, identifier string) (*Project, error) {
	if identifier == "" {
		return nil, errors.New("redmine: empty project identifier")
	}
	var out struct {
		Project Project `json:"project"`
	}
	if err := c.doJSON(ctx, "/projects/"+url.PathEscape(identifier)+".json", nil, &out); err != nil {
		return nil, err
	}
	return &out.Project, nil
}

func (c *Client) Versions(ctx context.Context, projectIdentifier string) ([]Version, error) {
	if projectIdentifier == "" {
		return nil, errors.New("redmine: empty project identifier")
	}
	var out struct {
		Versions []Version `json:"versions"`
	}
	if err := c.doJSON(ctx, "/projects/"+url.PathEscape(projectIdentifier)+"/versions.json", nil, &out); err != nil {
		return nil, err
	}
	return out.Versions, nil
}

func (c *Client) IssueStatuses(ctx context.Context) ([]Ref, error) {
	var out struct {
		Statuses []Ref `json:"issue_statuses"`
	}
	if err := c.doJSON(ctx, "/issue_statuses.json", nil, &out); err != nil {
		return nil, err
	}
	return out.Statuses, nil
}

func (c *Client) Issues(ctx context.Context, iq IssueQuery) (*IssuesPage, error) {
	q := url.Values{}
	q.Set("status_id", "*")
	if iq.ProjectID != "" {
		q.Set("project_id", iq.ProjectID)
	}
	if iq.VersionID > 0 {
		q.Set("fixed_version_id", strconv.FormatInt(iq.VersionID, 10))
	}
	if iq.Limit > 0 {
		q.Set("limit", strconv.Itoa(iq.Limit))
	}
	if iq.Offset > 0 {
		q.Set("offset", strconv.Itoa(iq.Offset))
	}
	if iq.UpdatedSince != "" {
		q.Set("updated_on", ">="+iq.UpdatedSince)
	}
	var include []string
	if iq.Journals {
		include = append(include, "journals")
	}
	if iq.Children {
		include = append(include, "children")
	}
	if len(include) > 0 {
		q.Set("include", strings.Join(include, ","))
	}
	var out IssuesPage
	if err := c.doJSON(ctx, "/issues.json", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckConnection verifies reachability and authentication using cheap
// listing endpoints, returning the project and status counts it saw.
func (c *Client) CheckConnection(ctx context.Context) (projects int, statuses int, err error) {
	ps, err := c.Projects(ctx)
	if err != nil {
		return 0, 0, err
	}
	ss, err := c.IssueStatuses(ctx)
	if err != nil {
		return len(ps), 0, err
	}
	return len(ps), len(ss), nil
}

func (c *Client) doJSON(ctx context.Context, path string, q url.Values, out any) error {
	if c.baseURL == "" {
		return errors.New("redmine: empty baseURL")
	}
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(300*(1<<attempt)) * time.Millisecond):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-Redmine-API-Key", c.apiKey)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 300 {
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			apiErr := fmt.Errorf("redmine api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
			// retry on 429/5xx only
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				lastErr = apiErr
				continue
			}
			return apiErr
		}
		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("redmine: decode %s: %w", path, err)
		}
		return nil
	}
	return lastErr
}
