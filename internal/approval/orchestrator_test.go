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

package approval

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"k8s.io/utils/ptr"

	"github.com/poiley/approvarr/internal/adapters/mock"
	"github.com/poiley/approvarr/internal/arr"
	"github.com/poiley/approvarr/internal/config"
	"github.com/poiley/approvarr/internal/notify"
	"github.com/poiley/approvarr/internal/rules"
)

var (
	_ DownloadClient  = (*mock.DownloadClient)(nil)
	_ QueueReconciler = (*mock.QueueReconciler)(nil)
	_ QueueReconciler = (*arr.Reconciler)(nil)
)

var _ = Describe("Orchestrator", func() {
	const hash = "ABCD1234"

	var (
		ctx      context.Context
		client   *mock.DownloadClient
		notifier *mock.Notifier
		queue    *mock.QueueReconciler
		deps     Deps
		o        *Orchestrator
		sonarr   config.Rule
		grab     ReleaseEvent
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = mock.NewDownloadClient()
		notifier = mock.NewNotifier()
		queue = mock.NewQueueReconciler()

		sonarr = config.Rule{
			Name:           "private-trackers",
			Apps:           []string{"sonarr"},
			IndexerMatches: []string{"ExampleIndexer"},
			TagsToAdd:      []string{"needs-approval"},
			PauseTorrent:   ptr.To(true),
			Notify:         ptr.To(true),
		}

		grab = ReleaseEvent{
			EventType:    EventGrab,
			InstanceName: "Sonarr",
			DownloadID:   hash,
			Release: Release{
				Indexer: "ExampleIndexer",
				Title:   "Show.S01E01",
				Size:    2147483648,
			},
		}

		deps = Deps{
			Client:   client,
			Notifier: notifier,
			Queue:    queue,
			Rules:    []config.Rule{sonarr},
			Behavior: config.BehaviorConfig{CreationDelaySeconds: ptr.To(0.0)},
		}
	})

	JustBeforeEach(func() {
		o = New(deps)
	})

	Context("When handling a grab event", func() {
		It("should tag, pause and request approval", func() {
			result := o.HandleGrab(ctx, grab)

			Expect(result.Outcome).To(Equal(OutcomeApplied))
			Expect(result.Errors).To(BeEmpty())
			Expect(result.Tagged).To(BeTrue())
			Expect(result.Paused).To(BeTrue())
			Expect(result.Notified).To(BeTrue())

			Expect(client.AuthenticateCalls).To(Equal(1))
			Expect(client.AddTagsCalls).To(Equal([]mock.AddTagsCall{{Hash: hash, Tags: []string{"needs-approval"}}}))
			Expect(client.PauseCalls).To(Equal([]string{hash}))

			Expect(notifier.Approvals).To(Equal([]notify.Approval{{
				Name:    "Show.S01E01",
				Size:    "2.00 GiB",
				Hash:    hash,
				Indexer: "ExampleIndexer",
			}}))

			state := client.Torrent(hash)
			Expect(state.Paused).To(BeTrue())
			Expect(state.SortedTags()).To(Equal([]string{"needs-approval"}))
		})

		It("should prefer releaseTitle over title", func() {
			grab.Release.ReleaseTitle = "Show.S01E01.1080p.WEB"
			o.HandleGrab(ctx, grab)

			Expect(notifier.Approvals).To(HaveLen(1))
			Expect(notifier.Approvals[0].Name).To(Equal("Show.S01E01.1080p.WEB"))
		})

		It("should skip the notification when the release has no title", func() {
			grab.Release.Title = ""
			result := o.HandleGrab(ctx, grab)

			Expect(result.Outcome).To(Equal(OutcomeApplied))
			Expect(result.Notified).To(BeFalse())
			Expect(notifier.ApprovalCount()).To(Equal(0))
			Expect(client.PauseCalls).To(HaveLen(1))
		})

		It("should ignore non-grab events without touching anything", func() {
			for _, eventType := range []string{EventTest, "Download", "Rename", "", "grab", "GRAB", " Grab"} {
				grab.EventType = eventType
				result := o.HandleGrab(ctx, grab)
				Expect(result.Outcome).To(Equal(OutcomeIgnored))
			}

			Expect(client.AuthenticateCalls).To(Equal(0))
			Expect(client.CallCount()).To(Equal(0))
			Expect(notifier.ApprovalCount()).To(Equal(0))
		})

		Context("without an indexer", func() {
			BeforeEach(func() {
				grab.Release.Indexer = ""
			})

			It("should reject the event and let the default allow policy run", func() {
				result := o.HandleGrab(ctx, grab)

				Expect(result.Outcome).To(Equal(OutcomeRejectedEvent))
				Expect(result.Policy).To(Equal(config.PolicyAllow))
				Expect(result.Errors).To(HaveLen(1))
				Expect(errors.Is(result.Errors[0], rules.ErrMissingIndexer)).To(BeTrue())
				Expect(client.AuthenticateCalls).To(Equal(0))
				Expect(client.CallCount()).To(Equal(0))
				Expect(notifier.Infos).To(HaveLen(1))
				Expect(notifier.Infos[0].Title).To(Equal("Grab allowed"))
			})

			It("should delete and blocklist with a deny default", func() {
				deps.Behavior.DefaultOnError = config.PolicyDeny
				o = New(deps)

				result := o.HandleGrab(ctx, grab)

				Expect(result.Outcome).To(Equal(OutcomeRejectedEvent))
				Expect(result.Policy).To(Equal(config.PolicyDeny))
				Expect(result.Message()).To(Equal("No indexer, handled with policy deny"))
				Expect(client.DeleteCalls).To(Equal([]mock.DeleteCall{{Hash: hash, DeleteFiles: true}}))
				Expect(queue.Calls).To(Equal([]mock.RemoveCall{{ID: hash, Opts: arr.RemoveOptions{Blocklist: true}}}))
			})

			It("should pause and ask for approval with a require_approval default", func() {
				deps.Behavior.DefaultOnError = config.PolicyRequireApproval
				o = New(deps)

				result := o.HandleGrab(ctx, grab)

				Expect(result.Outcome).To(Equal(OutcomeRejectedEvent))
				Expect(result.Policy).To(Equal(config.PolicyRequireApproval))
				Expect(result.Paused).To(BeTrue())
				Expect(result.Notified).To(BeTrue())
				Expect(client.PauseCalls).To(Equal([]string{hash}))
				Expect(notifier.ApprovalCount()).To(Equal(1))
			})

			It("should leave the policy alone when there is no download id either", func() {
				deps.Behavior.DefaultOnError = config.PolicyDeny
				o = New(deps)
				grab.DownloadID = ""

				result := o.HandleGrab(ctx, grab)

				Expect(result.Outcome).To(Equal(OutcomeRejectedEvent))
				Expect(result.Policy).To(BeEmpty())
				Expect(result.Message()).To(Equal("Ignored: no indexer"))
				Expect(client.CallCount()).To(Equal(0))
				Expect(queue.CallCount()).To(Equal(0))
			})
		})

		It("should not mutate anything without a download id", func() {
			grab.DownloadID = ""
			result := o.HandleGrab(ctx, grab)

			Expect(result.Outcome).To(Equal(OutcomeNoDownloadID))
			Expect(result.Errors).To(BeEmpty())
			Expect(result.Actions.NeedsPause).To(BeTrue())
			Expect(client.AuthenticateCalls).To(Equal(0))
			Expect(client.CallCount()).To(Equal(0))
		})

		It("should do nothing when no rule matches", func() {
			grab.Release.Indexer = "PublicIndexer"
			result := o.HandleGrab(ctx, grab)

			Expect(result.Outcome).To(Equal(OutcomeNoMatch))
			Expect(result.Actions.Empty()).To(BeTrue())
			Expect(client.CallCount()).To(Equal(0))
		})

		It("should keep going when the notification fails", func() {
			notifier.SendApprovalFunc = func(context.Context, notify.Approval) error {
				return &notify.DeliveryError{Provider: "mock", StatusCode: 500}
			}
			result := o.HandleGrab(ctx, grab)

			Expect(result.Outcome).To(Equal(OutcomeApplied))
			Expect(result.Notified).To(BeFalse())
			Expect(result.Errors).To(HaveLen(1))
			Expect(client.Torrent(hash).Paused).To(BeTrue())
		})

		Context("with a nil notifier", func() {
			BeforeEach(func() {
				deps.Notifier = nil
			})

			It("should treat notifications as a no-op", func() {
				result := o.HandleGrab(ctx, grab)

				Expect(result.Outcome).To(Equal(OutcomeApplied))
				Expect(result.Notified).To(BeFalse())
				Expect(result.Errors).To(BeEmpty())
			})
		})

		Context("with a registration timeout", func() {
			BeforeEach(func() {
				deps.Behavior.RegistrationTimeoutSeconds = 1
				deps.PollInterval = 10 * time.Millisecond
			})

			It("should poll until the torrent exists", func() {
				seen := 0
				client.ExistsFunc = func(context.Context, string) (bool, error) {
					seen++
					return seen >= 3, nil
				}

				result := o.HandleGrab(ctx, grab)

				Expect(result.Outcome).To(Equal(OutcomeApplied))
				Expect(client.ExistsCalls).To(HaveLen(3))
			})

			It("should continue after the timeout", func() {
				client.ExistsFunc = func(context.Context, string) (bool, error) {
					return false, nil
				}

				result := o.HandleGrab(ctx, grab)

				Expect(result.Outcome).To(Equal(OutcomeApplied))
				Expect(client.AddTagsCalls).To(HaveLen(1))
			})
		})
	})

	Context("When the grab pipeline fails", func() {
		var pauseErr error

		BeforeEach(func() {
			pauseErr = errors.New("qBittorrent pause (/api/v2/torrents/stop) failed: HTTP 500")
		})

		JustBeforeEach(func() {
			calls := 0
			client.PauseFunc = func(context.Context, string) error {
				calls++
				if calls == 1 {
					return pauseErr
				}
				return nil
			}
		})

		It("should allow the download by default", func() {
			result := o.HandleGrab(ctx, grab)

			Expect(result.Outcome).To(Equal(OutcomeFailed))
			Expect(result.Policy).To(Equal(config.PolicyAllow))
			Expect(client.ResumeCalls).To(Equal([]string{hash}))
			Expect(client.RemoveTagCalls).To(Equal([]mock.RemoveTagCall{{Hash: hash, Tag: "needs-approval"}}))
			Expect(client.DeleteCalls).To(BeEmpty())
			Expect(notifier.Infos).To(HaveLen(1))
			Expect(notifier.Infos[0].Title).To(Equal("Grab allowed"))
			Expect(notifier.ApprovalCount()).To(Equal(0))
		})

		Context("with a tag-only rule", func() {
			BeforeEach(func() {
				sonarr.PauseTorrent = ptr.To(false)
				deps.Rules = []config.Rule{sonarr}
			})

			It("should not resume a torrent the rule never paused", func() {
				client.AddTagsFunc = func(context.Context, string, []string) error {
					return errors.New("qBittorrent addTags (/api/v2/torrents/addTags) failed: HTTP 500")
				}

				result := o.HandleGrab(ctx, grab)

				Expect(result.Outcome).To(Equal(OutcomeFailed))
				Expect(result.Policy).To(Equal(config.PolicyAllow))
				Expect(client.ResumeCalls).To(BeEmpty())
				Expect(client.RemoveTagCalls).To(BeEmpty())
			})
		})

		Context("with a deny default", func() {
			BeforeEach(func() {
				deps.Behavior.DefaultOnError = config.PolicyDeny
			})

			It("should delete the download and blocklist it", func() {
				result := o.HandleGrab(ctx, grab)

				Expect(result.Policy).To(Equal(config.PolicyDeny))
				Expect(client.DeleteCalls).To(Equal([]mock.DeleteCall{{Hash: hash, DeleteFiles: true}}))
				Expect(queue.Calls).To(Equal([]mock.RemoveCall{{ID: hash, Opts: arr.RemoveOptions{Blocklist: true}}}))
				Expect(notifier.Infos).To(HaveLen(1))
				Expect(notifier.Infos[0].Title).To(Equal("Grab denied"))
			})
		})

		Context("with a rule requiring approval on error", func() {
			BeforeEach(func() {
				deps.Behavior.DefaultOnError = config.PolicyAllow
				sonarr.OnError = config.PolicyRequireApproval
				deps.Rules = []config.Rule{sonarr}
			})

			It("should keep the download paused and ask for approval", func() {
				result := o.HandleGrab(ctx, grab)

				Expect(result.Policy).To(Equal(config.PolicyRequireApproval))
				Expect(result.Paused).To(BeTrue())
				Expect(result.Notified).To(BeTrue())
				Expect(client.PauseCalls).To(HaveLen(2))
				Expect(notifier.ApprovalCount()).To(Equal(1))
				Expect(client.ResumeCalls).To(BeEmpty())
			})
		})

		Context("with conflicting rule overrides", func() {
			BeforeEach(func() {
				strict := sonarr
				strict.Name = "strict"
				strict.OnError = config.PolicyDeny
				sonarr.OnError = config.PolicyRequireApproval
				deps.Rules = []config.Rule{sonarr, strict}
			})

			It("should apply the strictest policy", func() {
				result := o.HandleGrab(ctx, grab)

				Expect(result.Policy).To(Equal(config.PolicyDeny))
				Expect(client.DeleteCalls).To(HaveLen(1))
			})
		})

		It("should apply the policy when login fails", func() {
			client.AuthenticateFunc = func(context.Context) error {
				return errors.New("qBittorrent login failed: invalid credentials")
			}

			result := o.HandleGrab(ctx, grab)

			Expect(result.Outcome).To(Equal(OutcomeFailed))
			Expect(client.AddTagsCalls).To(BeEmpty())
			Expect(result.Errors).NotTo(BeEmpty())
		})
	})

	Context("When approving", func() {
		It("should swap tags and resume", func() {
			o.HandleGrab(ctx, grab)

			decision, err := o.Approve(ctx, hash)
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Message()).To(Equal("Approved " + hash))

			state := client.Torrent(hash)
			Expect(state.Paused).To(BeFalse())
			Expect(state.SortedTags()).To(Equal([]string{"approved"}))
			Expect(client.RemoveTagCalls).To(Equal([]mock.RemoveTagCall{{Hash: hash, Tag: "needs-approval"}}))
		})

		It("should be idempotent", func() {
			o.HandleGrab(ctx, grab)

			_, err := o.Approve(ctx, hash)
			Expect(err).NotTo(HaveOccurred())
			first := client.Torrent(hash).SortedTags()

			_, err = o.Approve(ctx, hash)
			Expect(err).NotTo(HaveOccurred())

			state := client.Torrent(hash)
			Expect(state.SortedTags()).To(Equal(first))
			Expect(state.Paused).To(BeFalse())
		})

		It("should surface download client errors", func() {
			client.ResumeFunc = func(context.Context, string) error {
				return errors.New("HTTP 409 - torrent missing")
			}

			_, err := o.Approve(ctx, hash)
			Expect(err).To(MatchError(ContainSubstring("torrent missing")))
		})

		Context("with custom tags and decision notifications", func() {
			BeforeEach(func() {
				deps.Behavior.PendingTag = "hold"
				deps.Behavior.ApprovedTag = "ok"
				deps.NotifyDecisions = true
			})

			It("should use the configured tags and report the decision", func() {
				_, err := o.Approve(ctx, hash)
				Expect(err).NotTo(HaveOccurred())

				Expect(client.RemoveTagCalls[0].Tag).To(Equal("hold"))
				Expect(client.AddTagsCalls[0].Tags).To(Equal([]string{"ok"}))
				Expect(notifier.Infos).To(Equal([]mock.InfoCall{{Title: "Download approved", Message: hash}}))
			})
		})
	})

	Context("When rejecting", func() {
		It("should delete with files and reconcile the queue", func() {
			decision, err := o.Reject(ctx, hash)
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Message()).To(Equal("Rejected " + hash))

			Expect(client.DeleteCalls).To(Equal([]mock.DeleteCall{{Hash: hash, DeleteFiles: true}}))
			Expect(queue.Calls).To(Equal([]mock.RemoveCall{{ID: hash, Opts: arr.RemoveOptions{Blocklist: true, RemoveFromClient: false}}}))
		})

		It("should still delete after an approve", func() {
			o.HandleGrab(ctx, grab)
			_, err := o.Approve(ctx, hash)
			Expect(err).NotTo(HaveOccurred())

			_, err = o.Reject(ctx, hash)
			Expect(err).NotTo(HaveOccurred())

			state := client.Torrent(hash)
			Expect(state.Deleted).To(BeTrue())
			Expect(state.FilesDeleted).To(BeTrue())
		})

		It("should not fail when the queue reconciliation fails", func() {
			queue.RemoveByDownloadIDFunc = func(context.Context, string, arr.RemoveOptions) arr.Result {
				return arr.Result{Errors: []error{&arr.QueueReconcileError{Instance: "sonarr", Op: "fetch", Err: errors.New("timeout")}}}
			}

			decision, err := o.Reject(ctx, hash)
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.QueueErrors).To(HaveLen(1))
		})

		It("should surface delete errors", func() {
			client.DeleteFunc = func(context.Context, string, bool) error {
				return errors.New("HTTP 500 - boom")
			}

			_, err := o.Reject(ctx, hash)
			Expect(err).To(MatchError(ContainSubstring("boom")))
			Expect(queue.CallCount()).To(Equal(0))
		})

		Context("with queue reconciliation disabled", func() {
			BeforeEach(func() {
				deps.Behavior.ReconcileQueueOnReject = ptr.To(false)
			})

			It("should only delete the torrent", func() {
				_, err := o.Reject(ctx, hash)
				Expect(err).NotTo(HaveOccurred())
				Expect(queue.CallCount()).To(Equal(0))
			})
		})
	})
})
