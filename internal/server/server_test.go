package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"k8s.io/utils/ptr"

	"github.com/poiley/approvarr/internal/adapters/mock"
	"github.com/poiley/approvarr/internal/approval"
	"github.com/poiley/approvarr/internal/config"
)

const sonarrGrab = `{
	"eventType": "Grab",
	"instanceName": "Sonarr",
	"downloadId": "ABCD1234",
	"release": {"indexer": "ExampleIndexer", "title": "Show.S01E01", "size": 2147483648}
}`

var _ = Describe("Server", func() {
	var (
		client   *mock.DownloadClient
		notifier *mock.Notifier
		queue    *mock.QueueReconciler
		audit    *observer.ObservedLogs
		srv      *httptest.Server
	)

	do := func(method, path, body string) (int, string, http.Header) {
		req, err := http.NewRequestWithContext(context.Background(), method, srv.URL+path, strings.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = resp.Body.Close() }()
		data, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp.StatusCode, string(data), resp.Header
	}

	BeforeEach(func() {
		client = mock.NewDownloadClient()
		notifier = mock.NewNotifier()
		queue = mock.NewQueueReconciler()

		o := approval.New(approval.Deps{
			Client:   client,
			Notifier: notifier,
			Queue:    queue,
			Rules: []config.Rule{{
				Name:           "example",
				Apps:           []string{"sonarr"},
				IndexerMatches: []string{"ExampleIndexer"},
				TagsToAdd:      []string{"needs-approval"},
				PauseTorrent:   ptr.To(true),
				Notify:         ptr.To(true),
			}},
			Behavior: config.BehaviorConfig{CreationDelaySeconds: ptr.To(0.0)},
		})

		core, logs := observer.New(zap.InfoLevel)
		audit = logs

		srv = httptest.NewServer(New(Options{Orchestrator: o, AuditLog: zap.New(core)}).Handler())
		DeferCleanup(srv.Close)
	})

	Context("POST /webhook", func() {
		It("should run the grab pipeline end to end", func() {
			status, body, header := do(http.MethodPost, "/webhook", sonarrGrab)

			Expect(status).To(Equal(http.StatusOK))
			Expect(body).To(Equal("OK"))
			Expect(header.Get(RequestIDHeader)).NotTo(BeEmpty())

			Expect(client.AddTagsCalls).To(Equal([]mock.AddTagsCall{{Hash: "ABCD1234", Tags: []string{"needs-approval"}}}))
			Expect(client.PauseCalls).To(Equal([]string{"ABCD1234"}))
			Expect(notifier.Approvals).To(HaveLen(1))
			Expect(notifier.Approvals[0].Size).To(Equal("2.00 GiB"))

			entries := audit.FilterMessage("webhook received").All()
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].ContextMap()["requestID"]).To(Equal(header.Get(RequestIDHeader)))
		})

		It("should acknowledge test events", func() {
			status, body, _ := do(http.MethodPost, "/webhook", `{"eventType":"Test","instanceName":"Sonarr"}`)

			Expect(status).To(Equal(http.StatusOK))
			Expect(body).To(Equal("Ignored"))
			Expect(client.CallCount()).To(Equal(0))
		})

		It("should acknowledge grabs even when the download client fails", func() {
			client.AuthenticateFunc = func(context.Context) error { return errors.New("connection refused") }

			status, _, _ := do(http.MethodPost, "/webhook", sonarrGrab)
			Expect(status).To(Equal(http.StatusOK))
		})

		DescribeTable("should reject malformed bodies",
			func(body, expected string) {
				status, text, _ := do(http.MethodPost, "/webhook", body)
				Expect(status).To(Equal(http.StatusBadRequest))
				Expect(text).To(Equal(expected))
			},
			Entry("empty", "", "Empty body"),
			Entry("whitespace", "  \n", "Empty body"),
			Entry("not json", "eventType=Grab", "Invalid JSON"),
		)

		It("should audit every body, including bad ones", func() {
			do(http.MethodPost, "/webhook", "not json")
			Expect(audit.FilterMessage("webhook received").Len()).To(Equal(1))
		})
	})

	Context("GET /approve/{hash}", func() {
		It("should approve the download", func() {
			status, body, _ := do(http.MethodGet, "/approve/ABCD1234", "")

			Expect(status).To(Equal(http.StatusOK))
			Expect(body).To(Equal("Approved ABCD1234"))
			Expect(client.ResumeCalls).To(Equal([]string{"ABCD1234"}))
		})

		It("should return the error text on failure", func() {
			client.RemoveTagFunc = func(context.Context, string, string) error {
				return errors.New("HTTP 403 - Forbidden")
			}

			status, body, _ := do(http.MethodGet, "/approve/ABCD1234", "")
			Expect(status).To(Equal(http.StatusInternalServerError))
			Expect(body).To(HavePrefix("Error approving: "))
			Expect(body).To(ContainSubstring("HTTP 403 - Forbidden"))
		})
	})

	Context("GET /reject/{hash}", func() {
		It("should reject the download", func() {
			status, body, _ := do(http.MethodGet, "/reject/ABCD1234", "")

			Expect(status).To(Equal(http.StatusOK))
			Expect(body).To(Equal("Rejected ABCD1234"))
			Expect(client.DeleteCalls).To(Equal([]mock.DeleteCall{{Hash: "ABCD1234", DeleteFiles: true}}))
			Expect(queue.CallCount()).To(Equal(1))
		})

		It("should return the error text on failure", func() {
			client.DeleteFunc = func(context.Context, string, bool) error {
				return errors.New("connection refused")
			}

			status, body, _ := do(http.MethodGet, "/reject/ABCD1234", "")
			Expect(status).To(Equal(http.StatusInternalServerError))
			Expect(body).To(Equal("Error rejecting: failed to delete torrent: connection refused"))
		})
	})

	It("should serve health and metrics", func() {
		status, body, _ := do(http.MethodGet, "/healthz", "")
		Expect(status).To(Equal(http.StatusOK))
		Expect(body).To(Equal("ok"))

		do(http.MethodPost, "/webhook", sonarrGrab)

		status, body, _ = do(http.MethodGet, "/metrics", "")
		Expect(status).To(Equal(http.StatusOK))
		Expect(body).To(ContainSubstring("approvarr_grab_events_total"))
	})

	DescribeTable("request ids",
		func(sent, want string) {
			req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, srv.URL+"/webhook", strings.NewReader(sonarrGrab))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set(RequestIDHeader, sent)
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			_ = resp.Body.Close()

			got := resp.Header.Get(RequestIDHeader)
			_, err = uuid.Parse(got)
			Expect(err).NotTo(HaveOccurred())
			if want != "" {
				Expect(got).To(Equal(want))
			} else {
				Expect(got).NotTo(Equal(sent))
			}

			entries := audit.FilterMessage("webhook received").All()
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].ContextMap()["requestID"]).To(Equal(got))
		},
		Entry("canonical uuid is kept", "0b6c1f3e-2a4d-4c8e-9f10-5e7d3a2b1c00", "0b6c1f3e-2a4d-4c8e-9f10-5e7d3a2b1c00"),
		Entry("upper case uuid is normalised", "0B6C1F3E-2A4D-4C8E-9F10-5E7D3A2B1C00", "0b6c1f3e-2a4d-4c8e-9f10-5e7d3a2b1c00"),
		Entry("free text is replaced", "hello forged=entry", ""),
		Entry("oversized value is replaced", strings.Repeat("a", 4096), ""),
	)
})
