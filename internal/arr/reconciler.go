// Package arr reconciles Sonarr/Radarr download queues with approval decisions.
package arr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oapi-codegen/runtime"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/poiley/approvarr/internal/adapters/httpclient"
	"github.com/poiley/approvarr/internal/config"
	"github.com/poiley/approvarr/internal/discovery"
)

const (
	queuePath = "/api/v3/queue"

	// DefaultPageSize is large enough to fetch a whole queue in one page
	DefaultPageSize = 1000
)

// QueueItem is one entry of /api/v3/queue. Only the fields needed for
// matching are decoded.
type QueueItem struct {
	ID         *int   `json:"id"`
	DownloadID string `json:"downloadId"`
	Title      string `json:"title,omitempty"`
}

type queuePage struct {
	Page         int         `json:"page"`
	PageSize     int         `json:"pageSize"`
	TotalRecords int         `json:"totalRecords"`
	Records      []QueueItem `json:"records"`
}

// RemoveOptions are passed to the queue delete call.
type RemoveOptions struct {
	Blocklist        bool
	RemoveFromClient bool
}

// RemovedEntry records one queue entry that was deleted.
type RemovedEntry struct {
	Instance string
	QueueID  int
}

// Result summarises one reconciliation run across all instances.
type Result struct {
	Removed []RemovedEntry
	Errors  []error
}

// Failed reports whether any instance reported an error.
func (r Result) Failed() bool {
	return len(r.Errors) > 0
}

// QueueReconcileError is a per-instance failure. It never aborts the run.
type QueueReconcileError struct {
	Instance string
	QueueID  int
	Op       string
	Err      error
}

func (e *QueueReconcileError) Error() string {
	if e.Op == "delete" {
		return fmt.Sprintf("%s: failed to delete queue item %d: %v", e.Instance, e.QueueID, e.Err)
	}
	return fmt.Sprintf("%s: failed to %s queue: %v", e.Instance, e.Op, e.Err)
}

func (e *QueueReconcileError) Unwrap() error { return e.Err }

// Instance is one resolved controller with its API client.
type Instance struct {
	Name   string
	Type   string
	client *httpclient.Client
}

// NewInstance creates an Instance talking to baseURL with apiKey.
func NewInstance(name, arrType, baseURL, apiKey string, insecure bool, timeout time.Duration) Instance {
	return Instance{
		Name: name,
		Type: arrType,
		client: httpclient.New(httpclient.Config{
			BaseURL:            baseURL,
			APIKey:             apiKey,
			InsecureSkipVerify: insecure,
			Timeout:            timeout,
		}),
	}
}

// Reconciler fans queue removals out over every configured controller.
type Reconciler struct {
	instances []Instance
	pageSize  int
}

// NewReconciler creates a Reconciler over already resolved instances.
func NewReconciler(instances ...Instance) *Reconciler {
	return &Reconciler{instances: instances, pageSize: DefaultPageSize}
}

// FromConfig resolves each instance's API key and builds a Reconciler.
func FromConfig(ctx context.Context, instances []config.ArrInstance, resolver *discovery.Resolver, timeout time.Duration) (*Reconciler, error) {
	resolved := make([]Instance, 0, len(instances))
	for _, inst := range instances {
		key, err := resolver.ResolveAPIKey(ctx, inst.CredentialSource())
		if err != nil {
			return nil, fmt.Errorf("failed to resolve API key for %s: %w", inst.Name, err)
		}
		resolved = append(resolved, NewInstance(inst.Name, inst.Type, inst.URL, key, inst.InsecureSkipVerify, timeout))
	}
	return NewReconciler(resolved...), nil
}

// Len returns the number of configured instances.
func (r *Reconciler) Len() int {
	if r == nil {
		return 0
	}
	return len(r.instances)
}

// RemoveByDownloadID deletes every queue entry whose downloadId equals id
// (case-insensitive) on every instance. Failures are collected, not returned.
func (r *Reconciler) RemoveByDownloadID(ctx context.Context, id string, opts RemoveOptions) Result {
	log := logf.FromContext(ctx)
	var result Result

	if r == nil || strings.TrimSpace(id) == "" {
		return result
	}

	for _, inst := range r.instances {
		items, err := r.queue(ctx, inst)
		if err != nil {
			qerr := &QueueReconcileError{Instance: inst.Name, Op: "fetch", Err: err}
			log.Error(qerr, "Failed to fetch queue", "instance", inst.Name)
			result.Errors = append(result.Errors, qerr)
			continue
		}

		for _, item := range items {
			if item.ID == nil || !strings.EqualFold(item.DownloadID, id) {
				continue
			}

			if err := r.deleteItem(ctx, inst, *item.ID, opts); err != nil {
				qerr := &QueueReconcileError{Instance: inst.Name, QueueID: *item.ID, Op: "delete", Err: err}
				log.Error(qerr, "Failed to delete queue item", "instance", inst.Name, "queueID", *item.ID)
				result.Errors = append(result.Errors, qerr)
				continue
			}

			log.Info("Removed queue item", "instance", inst.Name, "queueID", *item.ID,
				"blocklist", opts.Blocklist, "removeFromClient", opts.RemoveFromClient)
			result.Removed = append(result.Removed, RemovedEntry{Instance: inst.Name, QueueID: *item.ID})
		}
	}

	return result
}

func (r *Reconciler) queue(ctx context.Context, inst Instance) ([]QueueItem, error) {
	query := url.Values{}
	query.Set("pageSize", strconv.Itoa(r.pageSize))
	switch inst.Type {
	case config.ArrTypeRadarr:
		query.Set("includeUnknownMovieItems", "true")
	default:
		query.Set("includeUnknownSeriesItems", "true")
	}

	var raw json.RawMessage
	if err := inst.client.Get(ctx, queuePath, query, &raw); err != nil {
		return nil, err
	}
	return decodeQueue(raw)
}

// decodeQueue accepts both the paged v3 response and a bare array.
func decodeQueue(raw json.RawMessage) ([]QueueItem, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []QueueItem
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("failed to decode queue: %w", err)
		}
		return items, nil
	}

	var page queuePage
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, fmt.Errorf("failed to decode queue: %w", err)
	}
	return page.Records, nil
}

func (r *Reconciler) deleteItem(ctx context.Context, inst Instance, queueID int, opts RemoveOptions) error {
	id, err := runtime.StyleParamWithLocation("simple", false, "id", runtime.ParamLocationPath, queueID)
	if err != nil {
		return err
	}

	query := url.Values{}
	query.Set("removeFromClient", strconv.FormatBool(opts.RemoveFromClient))
	query.Set("blocklist", strconv.FormatBool(opts.Blocklist))

	return inst.client.Delete(ctx, queuePath+"/"+id, query)
}
