package approval

import (
	"context"
	"errors"
	"fmt"
	"slices"

	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/poiley/approvarr/internal/arr"
	"github.com/poiley/approvarr/internal/config"
	"github.com/poiley/approvarr/internal/metrics"
	"github.com/poiley/approvarr/internal/rules"
)

// EffectivePolicy is the strictest override among the matching rules, or
// the configured default when none of them sets one.
func (o *Orchestrator) EffectivePolicy(actions rules.ActionSet) config.ErrorPolicy {
	return actions.OnError.Or(o.behavior.DefaultOnError)
}

// applyErrorPolicy decides the fate of a download whose grab pipeline failed.
// Every step is best effort; failures are recorded on the result.
func (o *Orchestrator) applyErrorPolicy(ctx context.Context, ev ReleaseEvent, actions rules.ActionSet, cause error, result *GrabResult) {
	policy := o.EffectivePolicy(actions)
	result.Policy = policy
	metrics.RecordErrorPolicy(string(policy))

	log := logf.FromContext(ctx).WithValues("policy", policy)
	log.Info("Applying error policy")

	hash := ev.DownloadID
	name := ev.Title()
	if name == "" {
		name = hash
	}

	switch policy {
	case config.PolicyDeny:
		if err := o.clientAction("delete", o.client.Delete(ctx, hash, true)); err != nil {
			log.Error(err, "Failed to delete torrent")
			result.Errors = append(result.Errors, err)
		}
		o.reconcileQueue(ctx, hash)
		o.sendInfo(ctx, "Grab denied", fmt.Sprintf("%s was removed after an error: %v", name, cause))

	case config.PolicyRequireApproval:
		if err := o.clientAction("pause", o.client.Pause(ctx, hash)); err != nil {
			log.Error(err, "Failed to pause torrent")
			result.Errors = append(result.Errors, err)
		} else {
			result.Paused = true
		}
		sent, err := o.sendApproval(ctx, ev)
		if err != nil {
			result.Errors = append(result.Errors, err)
		}
		result.Notified = sent

	default:
		if actions.NeedsPause {
			if err := o.clientAction("resume", o.client.Resume(ctx, hash)); err != nil {
				log.Error(err, "Failed to resume torrent")
				result.Errors = append(result.Errors, err)
			} else {
				result.Paused = false
			}
		}
		if result.Tagged && slices.Contains(actions.Tags, o.behavior.PendingTag) {
			if err := o.clientAction("removeTags", o.client.RemoveTag(ctx, hash, o.behavior.PendingTag)); err != nil {
				log.Error(err, "Failed to remove pending tag")
				result.Errors = append(result.Errors, err)
			}
		}
		o.sendInfo(ctx, "Grab allowed", fmt.Sprintf("%s continues after an error: %v", name, cause))
	}
}

// reconcileQueue removes and blocklists the download on every *arr instance.
// The client copy is handled separately, so removeFromClient is false.
func (o *Orchestrator) reconcileQueue(ctx context.Context, hash string) arr.Result {
	if o.queue == nil || o.queue.Len() == 0 {
		return arr.Result{}
	}

	result := o.queue.RemoveByDownloadID(ctx, hash, arr.RemoveOptions{Blocklist: true, RemoveFromClient: false})
	for _, removed := range result.Removed {
		metrics.RecordQueueRemoval(removed.Instance, nil)
	}
	for _, err := range result.Errors {
		instance := "unknown"
		var qerr *arr.QueueReconcileError
		if errors.As(err, &qerr) {
			instance = qerr.Instance
		}
		metrics.RecordQueueRemoval(instance, err)
	}
	return result
}
