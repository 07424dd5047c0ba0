//go:build e2e
// +build e2e

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

package e2e

import (
	"context"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/poiley/approvarr/internal/adapters/mock"
	"github.com/poiley/approvarr/internal/adapters/qbittorrent"
	"github.com/poiley/approvarr/internal/approval"
	"github.com/poiley/approvarr/internal/arr"
	"github.com/poiley/approvarr/internal/config"
	"github.com/poiley/approvarr/test/e2e/containers"
)

// unknownHash is never present in a fresh qBittorrent; the WebUI accepts
// tag and pause calls for it without error.
const unknownHash = "8C212779B4ABDE7C6BC608063A0D008B7E40CE32"

// These tests run the approval pipeline against real qBittorrent and Sonarr
// containers. They require Docker.
var _ = Describe("Approval Integration", Ordered, Label("integration"), func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		qbit      *containers.QbittorrentContainer
		sonarr    *containers.ArrContainer
		session   *qbittorrent.Session
		reconcile *arr.Reconciler
	)

	BeforeAll(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Minute)

		By("starting qBittorrent container")
		var err error
		qbit, err = containers.StartQbittorrent(ctx, containers.Options{})
		Expect(err).NotTo(HaveOccurred(), "Failed to start qBittorrent container")
		GinkgoWriter.Printf("qBittorrent started at %s\n", qbit.URL())

		By("starting Sonarr container")
		sonarr, err = containers.StartArr(ctx, config.ArrTypeSonarr, containers.Options{})
		Expect(err).NotTo(HaveOccurred(), "Failed to start Sonarr container")
		GinkgoWriter.Printf("Sonarr started at %s\n", sonarr.URL())

		session = qbittorrent.New(qbittorrent.Config{
			BaseURL:  qbit.URL(),
			Username: qbit.Username,
			Password: qbit.Password,
		})
		reconcile = arr.NewReconciler(arr.NewInstance("sonarr", config.ArrTypeSonarr, sonarr.URL(), sonarr.APIKey, false, 0))
	})

	AfterAll(func() {
		By("cleaning up containers")
		if qbit != nil {
			_ = qbit.Terminate(ctx)
		}
		if sonarr != nil {
			_ = sonarr.Terminate(ctx)
		}
		cancel()
	})

	Context("qBittorrent session", func() {
		It("should log in and report the version", func() {
			Expect(session.Authenticate(ctx)).To(Succeed())

			version, err := session.Version(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.HasPrefix(version, "v")).To(BeTrue(), "unexpected version %q", version)
		})

		It("should reject bad credentials", func() {
			bad := qbittorrent.New(qbittorrent.Config{BaseURL: qbit.URL(), Username: "admin", Password: "wrong"})
			err := bad.Authenticate(ctx)
			Expect(err).To(HaveOccurred())
			var authErr *qbittorrent.AuthenticationError
			Expect(err).To(BeAssignableToTypeOf(authErr))
		})

		It("should list no torrents on a fresh instance", func() {
			torrents, err := session.ListAll(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(torrents).To(BeEmpty())

			exists, err := session.Exists(ctx, unknownHash)
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeFalse())
		})

		It("should pause and resume through whichever endpoint the version offers", func() {
			Expect(session.Pause(ctx, unknownHash)).To(Succeed())
			Expect(session.Resume(ctx, unknownHash)).To(Succeed())
		})
	})

	Context("Sonarr queue", func() {
		It("should find nothing to remove for an unknown download id", func() {
			result := reconcile.RemoveByDownloadID(ctx, unknownHash, arr.RemoveOptions{Blocklist: true})
			Expect(result.Errors).To(BeEmpty())
			Expect(result.Removed).To(BeEmpty())
		})
	})

	Context("Approval pipeline", func() {
		It("should tag, pause and notify for a matching grab", func() {
			notifier := mock.NewNotifier()
			orch := approval.New(approval.Deps{
				Client:   session,
				Notifier: notifier,
				Queue:    reconcile,
				Rules: []config.Rule{{
					Name:           "private",
					Apps:           []string{config.ArrTypeSonarr},
					IndexerMatches: []string{"TL (Prowlarr)"},
					TagsToAdd:      []string{config.DefaultPendingTag},
				}},
				Behavior: config.BehaviorConfig{CreationDelaySeconds: new(float64)},
			})

			result := orch.HandleGrab(ctx, approval.ReleaseEvent{
				EventType:    approval.EventGrab,
				InstanceName: "Sonarr",
				DownloadID:   unknownHash,
				Release: approval.Release{
					Indexer:      "TL (Prowlarr)",
					ReleaseTitle: "Show.S01E01.1080p",
					Size:         1 << 30,
				},
			})
			Expect(result.Outcome).To(Equal(approval.OutcomeApplied))
			Expect(result.Tagged).To(BeTrue())
			Expect(result.Paused).To(BeTrue())
			Expect(notifier.ApprovalCount()).To(Equal(1))
		})

		It("should reject and reconcile the Sonarr queue", func() {
			orch := approval.New(approval.Deps{
				Client: session,
				Queue:  reconcile,
			})

			decision, err := orch.Reject(ctx, unknownHash)
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.QueueErrors).To(BeEmpty())
		})
	})
})
