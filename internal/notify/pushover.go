package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/poiley/approvarr/internal/config"
)

// Pushover posts messages to the Pushover messages API.
type Pushover struct {
	apiURL   string
	token    string
	user     string
	priority int
	base     string
	client   *http.Client
}

func (p *Pushover) Provider() string { return config.ProviderPushover }

func (p *Pushover) SendApproval(ctx context.Context, a Approval) error {
	links := BuildLinks(p.base, a.Hash)

	msg := fmt.Sprintf("Indexer: %s\nRelease: %s\n", a.Indexer, a.Name)
	if a.Size != "" {
		msg += fmt.Sprintf("Size: %s\n", a.Size)
	}
	msg += fmt.Sprintf("\nApprove: %s\nReject:  %s", links.Approve, links.Reject)

	form := p.form(ApprovalTitle, msg)
	form.Set("url", links.Approve)
	form.Set("url_title", "Approve")
	return p.post(ctx, form)
}

func (p *Pushover) SendInfo(ctx context.Context, title, message string) error {
	return p.post(ctx, p.form(title, message))
}

func (p *Pushover) form(title, message string) url.Values {
	form := url.Values{}
	form.Set("token", p.token)
	form.Set("user", p.user)
	form.Set("title", title)
	form.Set("message", message)
	form.Set("priority", strconv.Itoa(p.priority))
	return form
}

func (p *Pushover) post(ctx context.Context, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return &DeliveryError{Provider: p.Provider(), Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return deliver(p.client, p.Provider(), req)
}
