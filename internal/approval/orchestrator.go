/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package approval ties rule evaluation, the download client, notifications
// and the *arr queue together. The orchestrator keeps no state between
// requests: a download's approval state lives only in its tags and its
// paused/resumed state on the download client.
package approval

import (
	"context"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/poiley/approvarr/internal/arr"
	"github.com/poiley/approvarr/internal/config"
	"github.com/poiley/approvarr/internal/metrics"
	"github.com/poiley/approvarr/internal/notify"
	"github.com/poiley/approvarr/internal/rules"
)

// DefaultPollInterval is how often Exists is polled while waiting for a
// freshly grabbed torrent to show up in the download client.
const DefaultPollInterval = 500 * time.Millisecond

// DownloadClient is the subset of the qBittorrent session the orchestrator drives.
type DownloadClient interface {
	Authenticate(ctx context.Context) error
	AddTags(ctx context.Context, hash string, tags []string) error
	RemoveTag(ctx context.Context, hash, tag string) error
	Pause(ctx context.Context, hash string) error
	Resume(ctx context.Context, hash string) error
	Delete(ctx context.Context, hash string, deleteFiles bool) error
	Exists(ctx context.Context, hash string) (bool, error)
}

// QueueReconciler removes *arr queue entries for a download.
type QueueReconciler interface {
	RemoveByDownloadID(ctx context.Context, id string, opts arr.RemoveOptions) arr.Result
	Len() int
}

// Deps are the orchestrator's collaborators. Notifier and Queue may be nil.
type Deps struct {
	Client   DownloadClient
	Notifier notify.Notifier
	Queue    QueueReconciler

	Rules    []config.Rule
	Behavior config.BehaviorConfig

	// NotifyDecisions sends an info message after approve/reject
	NotifyDecisions bool

	// PollInterval overrides DefaultPollInterval
	PollInterval time.Duration
}

// Orchestrator runs the grab, approve and reject flows.
type Orchestrator struct {
	client          DownloadClient
	notifier        notify.Notifier
	queue           QueueReconciler
	rules           []config.Rule
	behavior        config.BehaviorConfig
	notifyDecisions bool
	pollInterval    time.Duration
}

// New creates an Orchestrator from deps.
func New(deps Deps) *Orchestrator {
	behavior := deps.Behavior
	if behavior.PendingTag == "" {
		behavior.PendingTag = config.DefaultPendingTag
	}
	if behavior.ApprovedTag == "" {
		behavior.ApprovedTag = config.DefaultApprovedTag
	}
	if behavior.DefaultOnError == "" {
		behavior.DefaultOnError = config.PolicyAllow
	}

	pollInterval := deps.PollInterval
	if pollInterval == 0 {
		pollInterval = DefaultPollInterval
	}

	return &Orchestrator{
		client:          deps.Client,
		notifier:        deps.Notifier,
		queue:           deps.Queue,
		rules:           deps.Rules,
		behavior:        behavior,
		notifyDecisions: deps.NotifyDecisions,
		pollInterval:    pollInterval,
	}
}

// HandleGrab applies the matching rules to a webhook event. It never fails:
// problems are logged, counted and recorded in the result, and a failed
// pipeline is handed to the effective error policy.
func (o *Orchestrator) HandleGrab(ctx context.Context, ev ReleaseEvent) GrabResult {
	start := time.Now()
	log := logf.FromContext(ctx).WithValues("app", ev.InstanceName, "downloadId", ev.DownloadID)
	ctx = logf.IntoContext(ctx, log)

	result := o.handleGrab(ctx, ev)

	metrics.RecordGrab(ev.InstanceName, string(result.Outcome), time.Since(start).Seconds())
	log.Info("Handled webhook event", "eventType", ev.EventType, "outcome", result.Outcome,
		"matchedRules", result.Actions.MatchedRules, "duration", time.Since(start).String())
	return result
}

func (o *Orchestrator) handleGrab(ctx context.Context, ev ReleaseEvent) GrabResult {
	log := logf.FromContext(ctx)
	result := GrabResult{Hash: ev.DownloadID}

	if !ev.IsGrab() {
		result.Outcome = OutcomeIgnored
		return result
	}

	actions, err := rules.Evaluate(ev.ruleEvent(), o.rules)
	if err != nil {
		log.Error(err, "Cannot evaluate grab event")
		result.Outcome = OutcomeRejectedEvent
		result.Errors = append(result.Errors, err)
		// no rule can override without an indexer, so the default policy decides
		if ev.DownloadID != "" {
			o.applyErrorPolicy(ctx, ev, rules.ActionSet{}, err, &result)
		}
		return result
	}
	result.Actions = actions

	if ev.DownloadID == "" {
		log.Info("Grab event has no download id, nothing to act on", "matchedRules", actions.MatchedRules)
		result.Outcome = OutcomeNoDownloadID
		return result
	}

	if actions.Empty() {
		result.Outcome = OutcomeNoMatch
		return result
	}

	if err := o.apply(ctx, ev, actions, &result); err != nil {
		log.Error(err, "Grab pipeline failed")
		result.Errors = append(result.Errors, err)
		result.Outcome = OutcomeFailed
		o.applyErrorPolicy(ctx, ev, actions, err, &result)
		return result
	}

	result.Outcome = OutcomeApplied
	return result
}

// apply authenticates, waits for the torrent, then tags, pauses and notifies.
// Notification failures are recorded but do not fail the pipeline.
func (o *Orchestrator) apply(ctx context.Context, ev ReleaseEvent, actions rules.ActionSet, result *GrabResult) error {
	hash := ev.DownloadID

	if err := o.clientAction("authenticate", o.client.Authenticate(ctx)); err != nil {
		return err
	}

	if err := o.waitForTorrent(ctx, hash); err != nil {
		return err
	}

	if len(actions.Tags) > 0 {
		if err := o.clientAction("addTags", o.client.AddTags(ctx, hash, actions.Tags)); err != nil {
			return fmt.Errorf("failed to tag torrent: %w", err)
		}
		result.Tagged = true
	}

	if actions.NeedsPause {
		if err := o.clientAction("pause", o.client.Pause(ctx, hash)); err != nil {
			return fmt.Errorf("failed to pause torrent: %w", err)
		}
		result.Paused = true
	}

	if actions.NeedsApproval {
		sent, err := o.sendApproval(ctx, ev)
		if err != nil {
			result.Errors = append(result.Errors, err)
		}
		result.Notified = sent
	}

	return nil
}

// waitForTorrent bridges the window in which the *arr has sent the webhook
// but the download client has not registered the torrent yet.
func (o *Orchestrator) waitForTorrent(ctx context.Context, hash string) error {
	if delay := o.behavior.CreationDelay(); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	timeout := o.behavior.RegistrationTimeout()
	if timeout <= 0 {
		return nil
	}

	err := wait.PollUntilContextTimeout(ctx, o.pollInterval, timeout, true, func(ctx context.Context) (bool, error) {
		ok, err := o.client.Exists(ctx, hash)
		if err != nil {
			logf.FromContext(ctx).V(1).Info("Lookup failed while waiting for torrent", "error", err.Error())
			return false, nil
		}
		return ok, nil
	})
	if err != nil {
		// mutations on an unknown hash fail softly, so carry on
		logf.FromContext(ctx).Info("Torrent not registered before timeout, continuing", "timeout", timeout.String())
	}
	return nil
}

// sendApproval reports whether a message was sent. A missing notifier or
// title is not an error.
func (o *Orchestrator) sendApproval(ctx context.Context, ev ReleaseEvent) (bool, error) {
	log := logf.FromContext(ctx)

	if o.notifier == nil {
		log.V(1).Info("No notifier configured, skipping approval request")
		return false, nil
	}
	title := ev.Title()
	if title == "" {
		log.Info("Release has no title, skipping approval request")
		return false, nil
	}

	err := o.notifier.SendApproval(ctx, notify.Approval{
		Name:    title,
		Size:    notify.FormatSize(ev.Release.Size),
		Hash:    ev.DownloadID,
		Indexer: ev.Release.Indexer,
	})
	metrics.RecordNotification(o.notifier.Provider(), "approval", err)
	if err != nil {
		log.Error(err, "Failed to send approval request")
		return false, err
	}
	return true, nil
}

// sendInfo is best effort.
func (o *Orchestrator) sendInfo(ctx context.Context, title, message string) {
	if o.notifier == nil {
		return
	}
	err := o.notifier.SendInfo(ctx, title, message)
	metrics.RecordNotification(o.notifier.Provider(), "info", err)
	if err != nil {
		logf.FromContext(ctx).Error(err, "Failed to send notification", "title", title)
	}
}

func (o *Orchestrator) clientAction(action string, err error) error {
	metrics.RecordClientAction(action, err)
	return err
}
