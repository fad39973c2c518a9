// Package webhook provides HTTP webhook notification support for
// snapshot lifecycle events (section 6's "external interfaces" ambient
// notification surface).
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// EventType represents the type of snapshot-engine event that can
// trigger webhooks.
type EventType string

const (
	EventSnapshotStarted  EventType = "snapshot.started"
	EventSnapshotSuccess  EventType = "snapshot.success"
	EventSnapshotFailed   EventType = "snapshot.failed"
	EventSnapshotDeleted  EventType = "snapshot.deleted"
	EventCloneStarted     EventType = "clone.started"
	EventCloneSuccess     EventType = "clone.success"
	EventCloneFailed      EventType = "clone.failed"
	EventClusterManagerLost EventType = "cluster_manager.lost"
)

// Event represents an event payload sent to webhooks.
type Event struct {
	Event      EventType              `json:"event"`
	Timestamp  string                 `json:"timestamp"`
	Repository string                 `json:"repository,omitempty"`
	Snapshot   string                 `json:"snapshot,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// HookConfig represents a single webhook configuration.
type HookConfig struct {
	URL     string        `json:"url" yaml:"url"`
	Secret  string        `json:"secret,omitempty" yaml:"secret,omitempty"`
	Events  []EventType   `json:"events" yaml:"events"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	Enabled bool          `json:"enabled" yaml:"enabled"`
}

// Config represents the webhook configuration.
type Config struct {
	Hooks          []HookConfig  `json:"hooks" yaml:"hooks"`
	Enabled        bool          `json:"enabled" yaml:"enabled"`
	MaxRetries     int           `json:"max_retries" yaml:"max_retries"`
	RetryDelay     time.Duration `json:"retry_delay" yaml:"retry_delay"`
	AsyncQueueSize int           `json:"async_queue_size" yaml:"async_queue_size"`
}

// DefaultConfig returns the default webhook configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:        true,
		MaxRetries:     3,
		RetryDelay:     5 * time.Second,
		AsyncQueueSize: 100,
	}
}

// Client handles sending webhook notifications.
type Client struct {
	config *Config
	http   *http.Client
	queue  chan *job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	mu     sync.RWMutex
}

type job struct {
	event Event
	hook  HookConfig
}

// NewClient creates a new webhook client.
func NewClient(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		config: cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		queue:  make(chan *job, cfg.AsyncQueueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.Enabled {
		c.start()
	}

	return c
}

// start starts the background webhook worker.
func (c *Client) start() {
	c.once.Do(func() {
		c.wg.Add(1)
		go c.worker()
	})
}

// worker processes webhook notifications in the background.
func (c *Client) worker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			for len(c.queue) > 0 {
				job := <-c.queue
				c.send(job)
			}
			return
		case job := <-c.queue:
			c.send(job)
		}
	}
}

// Send sends an event to all matching webhooks. If async is true, the
// event is queued for background sending; otherwise it's sent
// synchronously and the returned error is the last delivery failure.
func (c *Client) Send(event Event, async bool) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.config.Enabled {
		return nil
	}

	var hooks []HookConfig
	for _, hook := range c.config.Hooks {
		if !hook.Enabled {
			continue
		}
		if c.matchesEvent(hook, event.Event) {
			hooks = append(hooks, hook)
		}
	}

	if len(hooks) == 0 {
		return nil
	}

	if event.Timestamp == "" {
		event.Timestamp = time.Now().Format(time.RFC3339)
	}

	if async {
		for _, hook := range hooks {
			job := &job{event: event, hook: hook}
			select {
			case c.queue <- job:
			default:
				fmt.Printf("Warning: webhook queue full, dropping event: %s\n", event.Event)
			}
		}
		return nil
	}

	var lastErr error
	for _, hook := range hooks {
		if err := c.sendSync(&job{event: event, hook: hook}); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (c *Client) send(job *job) {
	if err := c.sendSync(job); err != nil {
		fmt.Printf("Webhook error: %v\n", err)
	}
}

// sendSync sends a webhook synchronously with retries.
func (c *Client) sendSync(job *job) error {
	payload, err := json.Marshal(job.event)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-c.ctx.Done():
				return c.ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		req, err := c.createRequest(job.hook, payload)
		if err != nil {
			return err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		lastErr = fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	return lastErr
}

// createRequest creates an HTTP request for the webhook.
func (c *Client) createRequest(hook HookConfig, payload []byte) (*http.Request, error) {
	req, err := http.NewRequest("POST", hook.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "snapmgr-webhook/1.0")

	if hook.Secret != "" {
		signature := c.sign(payload, hook.Secret)
		req.Header.Set("X-Snapmgr-Signature", signature)
	}

	return req, nil
}

// sign creates an HMAC-SHA256 signature for the payload.
func (c *Client) sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// matchesEvent checks if a hook is configured for the given event.
func (c *Client) matchesEvent(hook HookConfig, event EventType) bool {
	for _, e := range hook.Events {
		if e == event || e == "*" {
			return true
		}
	}
	return false
}

// Close gracefully shuts down the webhook client, draining queued jobs.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}

	c.cancel()
	c.wg.Wait()
	return nil
}

// SendSnapshotStarted sends a snapshot.started event.
func (c *Client) SendSnapshotStarted(repository, snapshot string, async bool) error {
	return c.Send(Event{Event: EventSnapshotStarted, Repository: repository, Snapshot: snapshot}, async)
}

// SendSnapshotSuccess sends a snapshot.success event.
func (c *Client) SendSnapshotSuccess(repository, snapshot string, totalShards, successfulShards int, async bool) error {
	return c.Send(Event{
		Event:      EventSnapshotSuccess,
		Repository: repository,
		Snapshot:   snapshot,
		Metadata: map[string]interface{}{
			"total_shards":      totalShards,
			"successful_shards": successfulShards,
		},
	}, async)
}

// SendSnapshotFailed sends a snapshot.failed event.
func (c *Client) SendSnapshotFailed(repository, snapshot, errMsg string, async bool) error {
	return c.Send(Event{Event: EventSnapshotFailed, Repository: repository, Snapshot: snapshot, Error: errMsg}, async)
}

// SendSnapshotDeleted sends a snapshot.deleted event.
func (c *Client) SendSnapshotDeleted(repository, snapshot string, async bool) error {
	return c.Send(Event{Event: EventSnapshotDeleted, Repository: repository, Snapshot: snapshot}, async)
}

// SendCloneStarted sends a clone.started event.
func (c *Client) SendCloneStarted(repository, snapshot string, async bool) error {
	return c.Send(Event{Event: EventCloneStarted, Repository: repository, Snapshot: snapshot}, async)
}

// SendCloneSuccess sends a clone.success event.
func (c *Client) SendCloneSuccess(repository, snapshot string, async bool) error {
	return c.Send(Event{Event: EventCloneSuccess, Repository: repository, Snapshot: snapshot}, async)
}

// SendCloneFailed sends a clone.failed event.
func (c *Client) SendCloneFailed(repository, snapshot, errMsg string, async bool) error {
	return c.Send(Event{Event: EventCloneFailed, Repository: repository, Snapshot: snapshot, Error: errMsg}, async)
}

// SendClusterManagerLost sends a cluster_manager.lost event, fired when
// this node observes losing cluster-manager status with operations still
// in flight for repository.
func (c *Client) SendClusterManagerLost(repository string, async bool) error {
	return c.Send(Event{Event: EventClusterManagerLost, Repository: repository}, async)
}
