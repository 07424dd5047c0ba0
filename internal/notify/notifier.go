// Package notify sends approval requests and informational messages to the
// configured notification provider. Every approval message carries the
// approve and reject links for the download.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/poiley/approvarr/internal/config"
)

// DefaultTimeout is the per-delivery HTTP timeout
const DefaultTimeout = 5 * time.Second

// ApprovalTitle is the title used for approval requests.
const ApprovalTitle = "Torrent needs approval"

// Notifier is implemented by every provider.
type Notifier interface {
	// Provider returns the provider name, e.g. "ntfy"
	Provider() string

	// SendApproval asks the operator to approve or reject a download.
	SendApproval(ctx context.Context, a Approval) error

	// SendInfo sends a plain informational message.
	SendInfo(ctx context.Context, title, message string) error
}

// Approval is the content of an approval request.
type Approval struct {
	Name    string
	Size    string
	Hash    string
	Indexer string
}

// Links are the approve/reject URLs for one download.
type Links struct {
	Approve string
	Reject  string
}

// BuildLinks derives the approve/reject URLs from the public base URL.
func BuildLinks(base, hash string) Links {
	base = strings.TrimRight(base, "/")
	return Links{
		Approve: base + "/approve/" + hash,
		Reject:  base + "/reject/" + hash,
	}
}

// FormatSize renders a byte count in gibibytes with two decimals.
func FormatSize(bytes int64) string {
	return fmt.Sprintf("%.2f GiB", float64(bytes)/(1<<30))
}

// DeliveryError is returned when a provider could not deliver a message.
type DeliveryError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s notification failed: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s notification failed with status %d", e.Provider, e.StatusCode)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// New builds the configured notifier. It returns (nil, nil) when no
// provider or no public URL is configured; notifications are then skipped.
func New(cfg *config.Config) (Notifier, error) {
	n := cfg.Notifications
	base := cfg.Server.PublicURL()
	if n.Provider == "" || base == "" {
		return nil, nil
	}

	hc := &http.Client{Timeout: DefaultTimeout}

	switch n.Provider {
	case config.ProviderPushover:
		if n.Pushover == nil {
			return nil, missingSettings(n.Provider)
		}
		return &Pushover{
			apiURL:   n.Pushover.APIURL,
			token:    n.Pushover.Token,
			user:     n.Pushover.User,
			priority: n.Pushover.Priority,
			base:     base,
			client:   hc,
		}, nil
	case config.ProviderNtfy:
		if n.Ntfy == nil {
			return nil, missingSettings(n.Provider)
		}
		return &Ntfy{
			server: strings.TrimRight(n.Ntfy.Server, "/"),
			topic:  n.Ntfy.Topic,
			token:  n.Ntfy.Token,
			base:   base,
			client: hc,
		}, nil
	case config.ProviderDiscord:
		if n.Discord == nil {
			return nil, missingSettings(n.Provider)
		}
		return &Discord{webhookURL: n.Discord.WebhookURL, base: base, client: hc}, nil
	case config.ProviderTelegram:
		if n.Telegram == nil {
			return nil, missingSettings(n.Provider)
		}
		t, err := NewTelegram(*n.Telegram, base, hc)
		if err != nil {
			return nil, err
		}
		return t, nil
	}

	return nil, &config.ConfigurationError{Problems: []string{fmt.Sprintf("unknown notification provider %q", n.Provider)}}
}

func missingSettings(provider string) error {
	return &config.ConfigurationError{Problems: []string{fmt.Sprintf("notifications.%s settings are required", provider)}}
}

// approvalText is the plain-text body shared by text providers.
func approvalText(a Approval, links Links) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", a.Name)
	fmt.Fprintf(&b, "Indexer: %s\n", a.Indexer)
	if a.Size != "" {
		fmt.Fprintf(&b, "Size: %s\n", a.Size)
	}
	fmt.Fprintf(&b, "\nApprove: %s\nReject:  %s", links.Approve, links.Reject)
	return b.String()
}

// deliver sends req and converts transport errors and non-2xx statuses.
func deliver(client *http.Client, provider string, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return &DeliveryError{Provider: provider, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return &DeliveryError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}
	return nil
}
