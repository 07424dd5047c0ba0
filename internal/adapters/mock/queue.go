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

	"github.com/poiley/approvarr/internal/arr"
)

// QueueReconciler is a test double for arr.Reconciler.
type QueueReconciler struct {
	// Instances is what Len reports; defaults to 1 through NewQueueReconciler
	Instances int

	RemoveByDownloadIDFunc func(ctx context.Context, id string, opts arr.RemoveOptions) arr.Result

	// Call tracking
	mu    sync.Mutex
	Calls []RemoveCall
}

// RemoveCall records one RemoveByDownloadID invocation.
type RemoveCall struct {
	ID   string
	Opts arr.RemoveOptions
}

// NewQueueReconciler creates a reconciler double with one instance.
func NewQueueReconciler() *QueueReconciler {
	return &QueueReconciler{Instances: 1}
}

// Len returns the number of configured instances.
func (m *QueueReconciler) Len() int { return m.Instances }

// RemoveByDownloadID records the call and returns an empty result by default.
func (m *QueueReconciler) RemoveByDownloadID(ctx context.Context, id string, opts arr.RemoveOptions) arr.Result {
	m.mu.Lock()
	m.Calls = append(m.Calls, RemoveCall{ID: id, Opts: opts})
	m.mu.Unlock()

	if m.RemoveByDownloadIDFunc != nil {
		return m.RemoveByDownloadIDFunc(ctx, id, opts)
	}
	return arr.Result{}
}

// CallCount returns how many reconciliations were requested.
func (m *QueueReconciler) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
