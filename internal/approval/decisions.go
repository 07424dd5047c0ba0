package approval

import (
	"context"
	"fmt"

	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/poiley/approvarr/internal/metrics"
)

// Approve releases a held download: the pending tag is replaced by the
// approved tag and the torrent is resumed. Repeating it is harmless.
func (o *Orchestrator) Approve(ctx context.Context, hash string) (Decision, error) {
	log := logf.FromContext(ctx).WithValues("hash", hash)
	decision := Decision{Kind: DecisionApprove, Hash: hash}

	err := o.approve(ctx, hash)
	metrics.RecordDecision(DecisionApprove, err)
	if err != nil {
		log.Error(err, "Approve failed")
		return decision, err
	}

	log.Info("Approved download")
	if o.notifyDecisions {
		o.sendInfo(ctx, "Download approved", hash)
	}
	return decision, nil
}

func (o *Orchestrator) approve(ctx context.Context, hash string) error {
	if err := o.clientAction("authenticate", o.client.Authenticate(ctx)); err != nil {
		return err
	}
	if err := o.clientAction("removeTags", o.client.RemoveTag(ctx, hash, o.behavior.PendingTag)); err != nil {
		return fmt.Errorf("failed to remove %q tag: %w", o.behavior.PendingTag, err)
	}
	if err := o.clientAction("addTags", o.client.AddTags(ctx, hash, []string{o.behavior.ApprovedTag})); err != nil {
		return fmt.Errorf("failed to add %q tag: %w", o.behavior.ApprovedTag, err)
	}
	if err := o.clientAction("resume", o.client.Resume(ctx, hash)); err != nil {
		return fmt.Errorf("failed to resume torrent: %w", err)
	}
	return nil
}

// Reject deletes the download with its files regardless of its current
// state, then removes and blocklists it in the *arr queues when enabled.
// Queue failures are reported on the decision and never fail the reject.
func (o *Orchestrator) Reject(ctx context.Context, hash string) (Decision, error) {
	log := logf.FromContext(ctx).WithValues("hash", hash)
	decision := Decision{Kind: DecisionReject, Hash: hash}

	err := o.clientAction("authenticate", o.client.Authenticate(ctx))
	if err == nil {
		if err = o.clientAction("delete", o.client.Delete(ctx, hash, true)); err != nil {
			err = fmt.Errorf("failed to delete torrent: %w", err)
		}
	}
	metrics.RecordDecision(DecisionReject, err)
	if err != nil {
		log.Error(err, "Reject failed")
		return decision, err
	}
	log.Info("Rejected download")

	if o.behavior.ShouldReconcileQueueOnReject() {
		queue := o.reconcileQueue(ctx, hash)
		decision.QueueRemoved = len(queue.Removed)
		decision.QueueErrors = queue.Errors
	}

	if o.notifyDecisions {
		o.sendInfo(ctx, "Download rejected", hash)
	}
	return decision, nil
}
