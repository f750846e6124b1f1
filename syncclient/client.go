// Package syncclient drives one sync attempt end to end: read the
// local snapshot, deliver it, and fall back to the offline queue when
// the server is unreachable.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"forge-sync/models"
	"forge-sync/queue"
	"forge-sync/snapshot"

	"github.com/cenkalti/backoff/v4"
)

// Outcome classifies one sync attempt.
type Outcome int

const (
	// OutcomeSucceeded: the server confirmed the submission.
	OutcomeSucceeded Outcome = iota
	// OutcomeQueued: delivery failed retryably; the payload is in the
	// offline queue.
	OutcomeQueued
	// OutcomeSkipped: nothing to do (recently synced, or no readable
	// source data).
	OutcomeSkipped
	// OutcomeRejected: the server refused the request; retrying the
	// same payload cannot succeed.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeQueued:
		return "queued"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Result reports what one sync attempt did.
type Result struct {
	Outcome         Outcome
	Message         string
	RecordsUpserted int
}

// Status is a pure local read: queue depth plus last attempt record.
type Status struct {
	Pending         int       `json:"pending"`
	LastSync        time.Time `json:"last_sync"`
	LastSyncSuccess bool      `json:"last_sync_success"`
	LastError       string    `json:"last_error,omitempty"`
}

// Client performs sync attempts against one server.
type Client struct {
	cfg   *Config
	http  *http.Client
	queue *queue.Queue
}

// New builds a client and opens its offline queue.
func New(cfg *Config) (*Client, error) {
	q, err := queue.Open(filepath.Join(cfg.StateDir, "queue"))
	if err != nil {
		return nil, fmt.Errorf("open offline queue: %w", err)
	}
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		queue: q,
	}, nil
}

func (c *Client) statePath() string {
	return filepath.Join(c.cfg.StateDir, "state.json")
}

// Sync runs one attempt. Unless force is set it is gated on the sync
// interval, so an external hourly trigger can call it blindly. Source
// read failures are a silent skip (an error only when forced). A
// retryable delivery failure queues the payload and is not an error;
// a 4xx rejection is surfaced as one.
func (c *Client) Sync(ctx context.Context, force bool) (*Result, error) {
	state := loadState(c.statePath())
	if !force && state.LastSyncSuccess && time.Since(state.LastSync) < c.cfg.SyncInterval {
		return &Result{Outcome: OutcomeSkipped, Message: "recently synced"}, nil
	}

	snap, err := snapshot.Read(c.cfg.StatsPath, c.cfg.Hostname)
	if err != nil {
		if force {
			return nil, err
		}
		return &Result{Outcome: OutcomeSkipped, Message: err.Error()}, nil
	}

	// Drain anything still pending before sending the fresh snapshot,
	// so queued history lands first and last-write-wins settles on the
	// newest data. Best effort: failures leave the queue as it was.
	_, _, _ = c.Retry(ctx)

	payload, err := json.Marshal(snap.Request())
	if err != nil {
		return nil, err
	}

	status, body, sendErr := c.send(ctx, payload)
	now := time.Now()

	switch {
	case sendErr != nil:
		if _, qErr := c.queue.Enqueue(payload); qErr != nil {
			return nil, fmt.Errorf("enqueue after send failure: %w", qErr)
		}
		_ = saveState(c.statePath(), syncState{LastSync: now, LastError: sendErr.Error()})
		return &Result{Outcome: OutcomeQueued, Message: "server unreachable: " + sendErr.Error()}, nil

	case status >= 200 && status < 300:
		var resp models.SyncResponse
		_ = json.Unmarshal(body, &resp)
		if err := saveState(c.statePath(), syncState{LastSync: now, LastSyncSuccess: true}); err != nil {
			return nil, err
		}
		return &Result{Outcome: OutcomeSucceeded, RecordsUpserted: resp.RecordsUpserted}, nil

	case retryableStatus(status):
		if _, qErr := c.queue.Enqueue(payload); qErr != nil {
			return nil, fmt.Errorf("enqueue after send failure: %w", qErr)
		}
		msg := fmt.Sprintf("server returned %d", status)
		_ = saveState(c.statePath(), syncState{LastSync: now, LastError: msg})
		return &Result{Outcome: OutcomeQueued, Message: msg}, nil

	default:
		msg := fmt.Sprintf("server rejected sync with status %d", status)
		_ = saveState(c.statePath(), syncState{LastSync: now, LastError: msg})
		return &Result{Outcome: OutcomeRejected, Message: msg}, errors.New(msg)
	}
}

// Retry drains the offline queue in FIFO order. Entries that deliver
// are removed; entries that fail retryably stay with their attempt
// count bumped, with a backoff pause before moving on. A hard 4xx stops
// the whole drain, since every remaining entry would fail the same way.
func (c *Client) Retry(ctx context.Context) (delivered, remaining int, err error) {
	entries, err := c.queue.ListPending()
	if err != nil {
		return 0, 0, err
	}
	if len(entries) == 0 {
		return 0, 0, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second

	for _, entry := range entries {
		status, _, sendErr := c.send(ctx, entry.Payload)

		switch {
		case sendErr == nil && status >= 200 && status < 300:
			if err := c.queue.MarkDelivered(entry.ID); err != nil {
				return delivered, pendingCount(c.queue), err
			}
			delivered++
			bo.Reset()

		case sendErr == nil && !retryableStatus(status):
			return delivered, pendingCount(c.queue),
				fmt.Errorf("server rejected queued sync with status %d", status)

		default:
			_ = c.queue.IncrementAttempts(entry.ID)
			select {
			case <-ctx.Done():
				return delivered, pendingCount(c.queue), ctx.Err()
			case <-time.After(bo.NextBackOff()):
			}
		}
	}

	return delivered, pendingCount(c.queue), nil
}

// Status reads the queue length and last-sync record. No network call.
func (c *Client) Status() (*Status, error) {
	pending, err := c.queue.Len()
	if err != nil {
		return nil, err
	}
	state := loadState(c.statePath())
	return &Status{
		Pending:         pending,
		LastSync:        state.LastSync,
		LastSyncSuccess: state.LastSyncSuccess,
		LastError:       state.LastError,
	}, nil
}

func (c *Client) send(ctx context.Context, payload []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.ServerURL+"/v1/sync", bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// retryableStatus reports whether a response status is worth queueing
// for: rate limiting and server-side failures are, other 4xx are not.
func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func pendingCount(q *queue.Queue) int {
	n, err := q.Len()
	if err != nil {
		return 0
	}
	return n
}
