package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jvs-project/snapmgr/pkg/errclass"
	"github.com/jvs-project/snapmgr/pkg/model"
)

// Client is a thin HTTP client for the admin API, used by
// cmd/snapmgrctl to talk to a running cmd/snapmgrd.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a Client pointed at baseURL (e.g.
// "http://localhost:9400").
func NewClient(baseURL string) *Client {
	return &Client{base: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: 0}}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = *bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		if eb.Code == "" {
			return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
		}
		return (&errclass.SnapError{Code: eb.Code}).WithMessage(eb.Message)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateSnapshotRequest mirrors lifecycle.CreateRequest plus the Wait
// flag that selects createSnapshot vs. executeSnapshot semantics.
type CreateSnapshotRequest struct {
	Repository         string
	Name               string
	Indices            []model.IndexID
	DataStreams        []string
	IncludeGlobalState bool
	Partial            bool
	UserMetadata       map[string]any
	Wait               bool
}

// CreateSnapshot calls POST /v1/snapshots. When req.Wait is true the
// response is the finalized *model.SnapshotInfo; otherwise it is the
// admitted model.Snapshot, marshaled into info with only SnapshotID and
// Repository populated.
func (c *Client) CreateSnapshot(ctx context.Context, req CreateSnapshotRequest) (*model.SnapshotInfo, error) {
	body := createBody{
		Repository: req.Repository, Name: req.Name, Indices: req.Indices,
		DataStreams: req.DataStreams, IncludeGlobalState: req.IncludeGlobalState,
		Partial: req.Partial, UserMetadata: req.UserMetadata, Wait: req.Wait,
	}
	var info model.SnapshotInfo
	if err := c.do(ctx, http.MethodPost, "/v1/snapshots", body, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// CloneSnapshotRequest mirrors lifecycle.CloneRequest plus Wait.
type CloneSnapshotRequest struct {
	Repository string
	Name       string
	Source     model.SnapshotID
	Indices    []model.IndexID
	Wait       bool
}

// CloneSnapshot calls POST /v1/snapshots/clone.
func (c *Client) CloneSnapshot(ctx context.Context, req CloneSnapshotRequest) (*model.SnapshotInfo, error) {
	body := cloneBody{Repository: req.Repository, Name: req.Name, Source: req.Source, Indices: req.Indices, Wait: req.Wait}
	var info model.SnapshotInfo
	if err := c.do(ctx, http.MethodPost, "/v1/snapshots/clone", body, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// DeleteSnapshots calls DELETE /v1/snapshots and blocks until the
// daemon reports the deletion complete.
func (c *Client) DeleteSnapshots(ctx context.Context, repository string, names []string) error {
	return c.do(ctx, http.MethodDelete, "/v1/snapshots", deleteBody{Repository: repository, Names: names}, nil)
}

// ListSnapshots calls GET /v1/snapshots.
func (c *Client) ListSnapshots(ctx context.Context, repository string, names []string) ([]*model.SnapshotEntry, error) {
	q := url.Values{}
	if repository != "" {
		q.Set("repository", repository)
	}
	if len(names) > 0 {
		q.Set("names", strings.Join(names, ","))
	}
	var entries []*model.SnapshotEntry
	if err := c.do(ctx, http.MethodGet, "/v1/snapshots?"+q.Encode(), nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Healthz calls GET /healthz.
func (c *Client) Healthz(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// ListFinalized calls GET /v1/snapshots/finalized, returning the
// repository's durably-persisted snapshot catalogue.
func (c *Client) ListFinalized(ctx context.Context, names []string) ([]model.SnapshotID, error) {
	q := url.Values{}
	if len(names) > 0 {
		q.Set("names", strings.Join(names, ","))
	}
	var ids []model.SnapshotID
	if err := c.do(ctx, http.MethodGet, "/v1/snapshots/finalized?"+q.Encode(), nil, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Status calls GET /v1/snapshots/status for name.
func (c *Client) Status(ctx context.Context, name string) (*model.SnapshotInfo, error) {
	q := url.Values{}
	q.Set("name", name)
	var info model.SnapshotInfo
	if err := c.do(ctx, http.MethodGet, "/v1/snapshots/status?"+q.Encode(), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetMaxConcurrentOperations calls GET /v1/settings/max_concurrent_operations.
func (c *Client) GetMaxConcurrentOperations(ctx context.Context) (int, error) {
	var body settingBody
	if err := c.do(ctx, http.MethodGet, "/v1/settings/max_concurrent_operations", nil, &body); err != nil {
		return 0, err
	}
	return body.Value, nil
}

// SetMaxConcurrentOperations calls PUT /v1/settings/max_concurrent_operations.
func (c *Client) SetMaxConcurrentOperations(ctx context.Context, value int) (int, error) {
	var body settingBody
	if err := c.do(ctx, http.MethodPut, "/v1/settings/max_concurrent_operations", settingBody{Value: value}, &body); err != nil {
		return 0, err
	}
	return body.Value, nil
}

// DefaultTimeout is the client-side deadline doctor/status subcommands
// apply when the caller doesn't already carry a context deadline.
const DefaultTimeout = 10 * time.Second
