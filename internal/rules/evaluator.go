// Package rules evaluates grab events against the configured approval rules.
// Evaluation is pure: no I/O and the rule slice is never modified.
package rules

import (
	"errors"
	"strings"

	"github.com/poiley/approvarr/internal/config"
)

// ErrMissingIndexer is returned for events that carry no indexer name.
var ErrMissingIndexer = errors.New("event has no indexer")

// Event is the part of a grab event the rules look at.
type Event struct {
	// App is the originating *arr instance name (e.g. "Sonarr")
	App string

	// Indexer is the indexer that produced the release
	Indexer string
}

// ActionSet is what has to happen to a grabbed download.
type ActionSet struct {
	NeedsApproval bool
	NeedsPause    bool

	// Tags is the union of all matching rules' tags, in first-seen order
	Tags []string

	// MatchedRules holds matching rule names, for logging only
	MatchedRules []string

	// OnError is the strictest override among matching rules, "" if none set one
	OnError config.ErrorPolicy
}

// Empty returns true if no action is required
func (a ActionSet) Empty() bool {
	return !a.NeedsApproval && !a.NeedsPause && len(a.Tags) == 0
}

// Matched reports whether at least one rule applied.
func (a ActionSet) Matched() bool {
	return len(a.MatchedRules) > 0
}

// Evaluate accumulates the actions of every rule that matches ev.
// A rule matches when the event's app is one of the rule's apps and the
// event's indexer is one of its indexer matches (both case-insensitive).
func Evaluate(ev Event, ruleSet []config.Rule) (ActionSet, error) {
	var result ActionSet

	if strings.TrimSpace(ev.Indexer) == "" {
		return result, ErrMissingIndexer
	}

	seen := make(map[string]bool)
	for _, rule := range ruleSet {
		if !Matches(rule, ev) {
			continue
		}

		result.MatchedRules = append(result.MatchedRules, rule.Name)
		if rule.ShouldNotify() {
			result.NeedsApproval = true
		}
		if rule.ShouldPause() {
			result.NeedsPause = true
		}
		for _, tag := range rule.TagsToAdd {
			if tag == "" || seen[tag] {
				continue
			}
			seen[tag] = true
			result.Tags = append(result.Tags, tag)
		}
		result.OnError = result.OnError.Stricter(rule.OnError)
	}

	return result, nil
}

// Matches reports whether a single rule applies to ev.
func Matches(rule config.Rule, ev Event) bool {
	return containsFold(rule.Apps, ev.App) && containsFold(rule.IndexerMatches, ev.Indexer)
}

func containsFold(list []string, s string) bool {
	s = strings.TrimSpace(s)
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), s) {
			return true
		}
	}
	return false
}
