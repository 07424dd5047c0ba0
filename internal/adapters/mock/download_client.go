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

// Package mock provides test doubles for the download client, the
// notifier and the *arr queue reconciler.
package mock

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// TorrentState is the in-memory state the default DownloadClient keeps per hash.
type TorrentState struct {
	Tags    map[string]bool
	Paused  bool
	Deleted bool
	// FilesDeleted is set when the torrent was deleted with its data
	FilesDeleted bool
}

// SortedTags returns the torrent's tags in sorted order.
func (s *TorrentState) SortedTags() []string {
	tags := make([]string, 0, len(s.Tags))
	for tag := range s.Tags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// DownloadClient is a qBittorrent-like test double.
// All methods are configurable via function fields. If a function field is
// nil, the call succeeds and updates the in-memory torrent state the way the
// real client would.
type DownloadClient struct {
	// Configurable function implementations
	AuthenticateFunc func(ctx context.Context) error
	AddTagsFunc      func(ctx context.Context, hash string, tags []string) error
	RemoveTagFunc    func(ctx context.Context, hash, tag string) error
	PauseFunc        func(ctx context.Context, hash string) error
	ResumeFunc       func(ctx context.Context, hash string) error
	DeleteFunc       func(ctx context.Context, hash string, deleteFiles bool) error
	ExistsFunc       func(ctx context.Context, hash string) (bool, error)

	// Call tracking
	mu                sync.Mutex
	AuthenticateCalls int
	AddTagsCalls      []AddTagsCall
	RemoveTagCalls    []RemoveTagCall
	PauseCalls        []string
	ResumeCalls       []string
	DeleteCalls       []DeleteCall
	ExistsCalls       []string

	torrents map[string]*TorrentState
}

// AddTagsCall records one AddTags invocation.
type AddTagsCall struct {
	Hash string
	Tags []string
}

// RemoveTagCall records one RemoveTag invocation.
type RemoveTagCall struct {
	Hash string
	Tag  string
}

// DeleteCall records one Delete invocation.
type DeleteCall struct {
	Hash        string
	DeleteFiles bool
}

// NewDownloadClient creates a new mock with default happy-path implementations.
func NewDownloadClient() *DownloadClient {
	return &DownloadClient{torrents: make(map[string]*TorrentState)}
}

// Torrent returns the state for hash, creating it on first use.
func (m *DownloadClient) Torrent(hash string) *TorrentState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.torrent(hash)
}

func (m *DownloadClient) torrent(hash string) *TorrentState {
	hash = strings.ToLower(hash)
	if m.torrents == nil {
		m.torrents = make(map[string]*TorrentState)
	}
	t, ok := m.torrents[hash]
	if !ok {
		t = &TorrentState{Tags: make(map[string]bool)}
		m.torrents[hash] = t
	}
	return t
}

// CallCount returns the total number of mutating and lookup calls, login excluded.
func (m *DownloadClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.AddTagsCalls) + len(m.RemoveTagCalls) + len(m.PauseCalls) +
		len(m.ResumeCalls) + len(m.DeleteCalls) + len(m.ExistsCalls)
}

// Authenticate logs in.
func (m *DownloadClient) Authenticate(ctx context.Context) error {
	m.mu.Lock()
	m.AuthenticateCalls++
	m.mu.Unlock()

	if m.AuthenticateFunc != nil {
		return m.AuthenticateFunc(ctx)
	}
	return nil
}

// AddTags adds tags to a torrent.
func (m *DownloadClient) AddTags(ctx context.Context, hash string, tags []string) error {
	m.mu.Lock()
	m.AddTagsCalls = append(m.AddTagsCalls, AddTagsCall{Hash: hash, Tags: append([]string(nil), tags...)})
	m.mu.Unlock()

	if m.AddTagsFunc != nil {
		return m.AddTagsFunc(ctx, hash, tags)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.torrent(hash)
	for _, tag := range tags {
		t.Tags[tag] = true
	}
	return nil
}

// RemoveTag removes a tag from a torrent.
func (m *DownloadClient) RemoveTag(ctx context.Context, hash, tag string) error {
	m.mu.Lock()
	m.RemoveTagCalls = append(m.RemoveTagCalls, RemoveTagCall{Hash: hash, Tag: tag})
	m.mu.Unlock()

	if m.RemoveTagFunc != nil {
		return m.RemoveTagFunc(ctx, hash, tag)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.torrent(hash).Tags, tag)
	return nil
}

// Pause stops a torrent.
func (m *DownloadClient) Pause(ctx context.Context, hash string) error {
	m.mu.Lock()
	m.PauseCalls = append(m.PauseCalls, hash)
	m.mu.Unlock()

	if m.PauseFunc != nil {
		return m.PauseFunc(ctx, hash)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.torrent(hash).Paused = true
	return nil
}

// Resume starts a torrent.
func (m *DownloadClient) Resume(ctx context.Context, hash string) error {
	m.mu.Lock()
	m.ResumeCalls = append(m.ResumeCalls, hash)
	m.mu.Unlock()

	if m.ResumeFunc != nil {
		return m.ResumeFunc(ctx, hash)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.torrent(hash).Paused = false
	return nil
}

// Delete removes a torrent.
func (m *DownloadClient) Delete(ctx context.Context, hash string, deleteFiles bool) error {
	m.mu.Lock()
	m.DeleteCalls = append(m.DeleteCalls, DeleteCall{Hash: hash, DeleteFiles: deleteFiles})
	m.mu.Unlock()

	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, hash, deleteFiles)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.torrent(hash)
	t.Deleted = true
	t.FilesDeleted = deleteFiles
	return nil
}

// Exists reports whether the torrent is known. Defaults to true.
func (m *DownloadClient) Exists(ctx context.Context, hash string) (bool, error) {
	m.mu.Lock()
	m.ExistsCalls = append(m.ExistsCalls, hash)
	m.mu.Unlock()

	if m.ExistsFunc != nil {
		return m.ExistsFunc(ctx, hash)
	}
	return true, nil
}

// Reset clears all call tracking data and torrent state.
func (m *DownloadClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.AuthenticateCalls = 0
	m.AddTagsCalls = nil
	m.RemoveTagCalls = nil
	m.PauseCalls = nil
	m.ResumeCalls = nil
	m.DeleteCalls = nil
	m.ExistsCalls = nil
	m.torrents = make(map[string]*TorrentState)
}
