package upstream

import (
	"bytes"
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

	"fleet-dashboard/internal/fleet/domain"
)

var (
	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("upstream: not found")
	// ErrUnexpectedShape is returned when a response has no known collection field.
	ErrUnexpectedShape = errors.New("upstream: unexpected response shape")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	Code   int
	Method string
	Path   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: %s %s: http %d", e.Method, e.Path, e.Code)
}

// Client is a minimal client for the fleet backend API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithTimeout sets the transport timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.client = &http.Client{Timeout: timeout}
		}
	}
}

// NewClient constructs a client.
func NewClient(baseURL, token string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("upstream: empty base url")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListTrailers returns every trailer with its latest snapshot.
func (c *Client) ListTrailers(ctx context.Context) ([]domain.Trailer, error) {
	items, err := c.getCollection(ctx, "/api/sites", "sites", "trailers")
	if err != nil {
		return nil, err
	}
	trailers := make([]domain.Trailer, 0, len(items))
	for _, raw := range items {
		var w trailerWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("upstream: decode site: %w", err)
		}
		trailers = append(trailers, w.toDomain())
	}
	return trailers, nil
}

// ListNetworkDevices returns cellular gateway telemetry.
func (c *Client) ListNetworkDevices(ctx context.Context) ([]domain.Pepwave, error) {
	items, err := c.getCollection(ctx, "/api/pepwave/devices", "devices")
	if err != nil {
		return nil, err
	}
	devices := make([]domain.Pepwave, 0, len(items))
	for _, raw := range items {
		var w pepwaveWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("upstream: decode device: %w", err)
		}
		devices = append(devices, w.toDomain())
	}
	return devices, nil
}

// ListJobSites returns job sites with their embedded trailer membership.
func (c *Client) ListJobSites(ctx context.Context) ([]domain.JobSite, error) {
	items, err := c.getCollection(ctx, "/api/job-sites", "job_sites", "jobSites")
	if err != nil {
		return nil, err
	}
	sites := make([]domain.JobSite, 0, len(items))
	for _, raw := range items {
		var w jobSiteWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("upstream: decode job site: %w", err)
		}
		sites = append(sites, w.toDomain())
	}
	return sites, nil
}

// ListActionItems returns every action item, acknowledged or not.
func (c *Client) ListActionItems(ctx context.Context) ([]domain.ActionItem, error) {
	items, err := c.getCollection(ctx, "/api/action-items", "items", "action_items")
	if err != nil {
		return nil, err
	}
	actions := make([]domain.ActionItem, 0, len(items))
	for _, raw := range items {
		var w actionWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("upstream: decode action item: %w", err)
		}
		actions = append(actions, w.toDomain())
	}
	return actions, nil
}

// DailyEnergy returns the last days of energy metrics for all sites, keyed by
// site id.
func (c *Client) DailyEnergy(ctx context.Context, days int) (map[string][]domain.DailyPoint, error) {
	path := "/api/energy/daily?days=" + strconv.Itoa(normalizeDays(days))
	items, err := c.getCollection(ctx, path, "days")
	if err != nil {
		return nil, err
	}
	bySite := make(map[string][]domain.DailyPoint)
	for _, raw := range items {
		siteID, point, ok, err := decodeDailyPoint(raw)
		if err != nil {
			return nil, err
		}
		if !ok || siteID == "" {
			continue
		}
		bySite[siteID] = append(bySite[siteID], point)
	}
	for _, points := range bySite {
		domain.SortByDate(points)
	}
	return bySite, nil
}

// DailyMetrics returns one site's daily series, ascending by date.
func (c *Client) DailyMetrics(ctx context.Context, siteID string, days int) ([]domain.DailyPoint, error) {
	if siteID == "" {
		return nil, errors.New("upstream: empty site id")
	}
	path := fmt.Sprintf("/api/sites/%s/daily?days=%d", url.PathEscape(siteID), normalizeDays(days))
	items, err := c.getCollection(ctx, path, "days", "metrics")
	if err != nil {
		return nil, err
	}
	points := make([]domain.DailyPoint, 0, len(items))
	for _, raw := range items {
		_, point, ok, err := decodeDailyPoint(raw)
		if err != nil {
			return nil, err
		}
		if ok {
			points = append(points, point)
		}
	}
	domain.SortByDate(points)
	return points, nil
}

// AcknowledgeAction marks an action item acknowledged.
func (c *Client) AcknowledgeAction(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("upstream: empty action key")
	}
	return c.doJSON(ctx, http.MethodPut, "/api/action-items/"+url.PathEscape(key)+"/acknowledge", map[string]any{}, nil)
}

// AssignTrailer moves a trailer to a job site. An empty jobSiteID unassigns it.
func (c *Client) AssignTrailer(ctx context.Context, siteID, jobSiteID string) error {
	if siteID == "" {
		return errors.New("upstream: empty site id")
	}
	if jobSiteID == "" {
		return c.doJSON(ctx, http.MethodDelete, "/api/job-sites/assignments/"+url.PathEscape(siteID), nil, nil)
	}
	body := map[string]any{"site_id": siteID}
	return c.doJSON(ctx, http.MethodPost, "/api/job-sites/"+url.PathEscape(jobSiteID)+"/trailers", body, nil)
}

// RenameJobSite updates a job site's display name.
func (c *Client) RenameJobSite(ctx context.Context, jobSiteID, name string) error {
	if jobSiteID == "" || strings.TrimSpace(name) == "" {
		return errors.New("upstream: invalid rename args")
	}
	body := map[string]any{"name": strings.TrimSpace(name)}
	return c.doJSON(ctx, http.MethodPut, "/api/job-sites/"+url.PathEscape(jobSiteID), body, nil)
}

func (c *Client) getCollection(ctx context.Context, path string, fields ...string) ([]json.RawMessage, error) {
	var body json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}
	return decodeCollection(body, fields...)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Method: method, Path: path}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("upstream: decode %s: %w", path, err)
	}
	return nil
}

// normalizeDays snaps the window to the supported 7/30/90 day ranges.
func normalizeDays(days int) int {
	switch {
	case days <= 0:
		return 1
	case days <= 7:
		return days
	case days <= 30:
		return 30
	default:
		return 90
	}
}
