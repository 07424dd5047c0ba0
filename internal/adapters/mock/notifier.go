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

package mock

import (
	"context"
	"sync"

	"github.com/poiley/approvarr/internal/notify"
)

// Notifier is a notify.Notifier test double that records every message.
type Notifier struct {
	// Configurable function implementations
	SendApprovalFunc func(ctx context.Context, a notify.Approval) error
	SendInfoFunc     func(ctx context.Context, title, message string) error

	// Call tracking
	mu        sync.Mutex
	Approvals []notify.Approval
	Infos     []InfoCall
}

// InfoCall records one SendInfo invocation.
type InfoCall struct {
	Title   string
	Message string
}

// Ensure Notifier implements the interface
var _ notify.Notifier = (*Notifier)(nil)

// NewNotifier creates a new mock with default happy-path implementations.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Provider returns "mock".
func (m *Notifier) Provider() string { return "mock" }

// SendApproval records an approval request.
func (m *Notifier) SendApproval(ctx context.Context, a notify.Approval) error {
	m.mu.Lock()
	m.Approvals = append(m.Approvals, a)
	m.mu.Unlock()

	if m.SendApprovalFunc != nil {
		return m.SendApprovalFunc(ctx, a)
	}
	return nil
}

// SendInfo records an informational message.
func (m *Notifier) SendInfo(ctx context.Context, title, message string) error {
	m.mu.Lock()
	m.Infos = append(m.Infos, InfoCall{Title: title, Message: message})
	m.mu.Unlock()

	if m.SendInfoFunc != nil {
		return m.SendInfoFunc(ctx, title, message)
	}
	return nil
}

// ApprovalCount returns how many approval requests were sent.
func (m *Notifier) ApprovalCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Approvals)
}

// InfoCount returns how many informational messages were sent.
func (m *Notifier) InfoCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Infos)
}
