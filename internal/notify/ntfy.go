package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/poiley/approvarr/internal/config"
)

// Ntfy publishes to a topic on an ntfy server. Approval messages carry
// two view actions so the operator can decide from the notification.
type Ntfy struct {
	server string
	topic  string
	token  string
	base   string
	client *http.Client
}

func (n *Ntfy) Provider() string { return config.ProviderNtfy }

func (n *Ntfy) SendApproval(ctx context.Context, a Approval) error {
	links := BuildLinks(n.base, a.Hash)
	actions := fmt.Sprintf("view, Approve, %s; view, Reject, %s", links.Approve, links.Reject)
	return n.publish(ctx, ApprovalTitle, approvalText(a, links), actions)
}

func (n *Ntfy) SendInfo(ctx context.Context, title, message string) error {
	return n.publish(ctx, title, message, "")
}

func (n *Ntfy) publish(ctx context.Context, title, body, actions string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.server+"/"+n.topic, strings.NewReader(body))
	if err != nil {
		return &DeliveryError{Provider: n.Provider(), Err: err}
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", title)
	if actions != "" {
		req.Header.Set("Actions", actions)
	}
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}
	return deliver(n.client, n.Provider(), req)
}
