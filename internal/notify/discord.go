package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/poiley/approvarr/internal/config"
)

// Discord posts markdown messages to a channel webhook.
type Discord struct {
	webhookURL string
	base       string
	client     *http.Client
}

type discordMessage struct {
	Content string `json:"content"`
}

func (d *Discord) Provider() string { return config.ProviderDiscord }

func (d *Discord) SendApproval(ctx context.Context, a Approval) error {
	links := BuildLinks(d.base, a.Hash)

	content := fmt.Sprintf("**%s**\n**Name:** %s\n**Indexer:** %s\n", ApprovalTitle, a.Name, a.Indexer)
	if a.Size != "" {
		content += fmt.Sprintf("**Size:** %s\n", a.Size)
	}
	content += fmt.Sprintf("\n[Approve](%s) | [Reject](%s)", links.Approve, links.Reject)

	return d.post(ctx, content)
}

func (d *Discord) SendInfo(ctx context.Context, title, message string) error {
	return d.post(ctx, fmt.Sprintf("**%s**\n%s", title, message))
}

func (d *Discord) post(ctx context.Context, content string) error {
	payload, err := json.Marshal(discordMessage{Content: content})
	if err != nil {
		return &DeliveryError{Provider: d.Provider(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return &DeliveryError{Provider: d.Provider(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return deliver(d.client, d.Provider(), req)
}
