package approval

import (
	"fmt"

	"github.com/poiley/approvarr/internal/config"
	"github.com/poiley/approvarr/internal/rules"
)

// Event types sent by Sonarr/Radarr webhooks
const (
	EventGrab = "Grab"
	EventTest = "Test"
)

// ReleaseEvent is the webhook body sent by Sonarr/Radarr.
type ReleaseEvent struct {
	EventType    string  `json:"eventType"`
	InstanceName string  `json:"instanceName"`
	DownloadID   string  `json:"downloadId"`
	Release      Release `json:"release"`
}

// Release is the release part of a grab event.
type Release struct {
	Indexer      string `json:"indexer"`
	ReleaseTitle string `json:"releaseTitle,omitempty"`
	Title        string `json:"title,omitempty"`
	Size         int64  `json:"size"`
}

// Title returns the release title, preferring releaseTitle over title.
func (e ReleaseEvent) Title() string {
	if e.Release.ReleaseTitle != "" {
		return e.Release.ReleaseTitle
	}
	return e.Release.Title
}

// IsGrab reports whether the event is actionable. The comparison is exact:
// *arr always sends "Grab".
func (e ReleaseEvent) IsGrab() bool {
	return e.EventType == EventGrab
}

func (e ReleaseEvent) ruleEvent() rules.Event {
	return rules.Event{App: e.InstanceName, Indexer: e.Release.Indexer}
}

// Outcome classifies how a webhook event was handled.
type Outcome string

const (
	// OutcomeIgnored is any non-Grab event
	OutcomeIgnored Outcome = "ignored"
	// OutcomeRejectedEvent is a grab that cannot be evaluated (no indexer)
	OutcomeRejectedEvent Outcome = "rejected_event"
	// OutcomeNoDownloadID is a grab without a hash to act on
	OutcomeNoDownloadID Outcome = "no_download_id"
	// OutcomeNoMatch means no rule required any action
	OutcomeNoMatch Outcome = "no_match"
	// OutcomeApplied means every action was applied
	OutcomeApplied Outcome = "applied"
	// OutcomeFailed means the pipeline failed and the error policy ran
	OutcomeFailed Outcome = "failed"
)

// GrabResult describes what HandleGrab did. Errors are recorded here
// instead of being returned.
type GrabResult struct {
	Outcome Outcome
	Hash    string
	Actions rules.ActionSet

	Tagged   bool
	Paused   bool
	Notified bool

	// Policy is the error policy applied when Outcome is OutcomeFailed
	Policy config.ErrorPolicy

	Errors []error
}

// Message is the short text returned to the webhook caller.
func (r GrabResult) Message() string {
	switch r.Outcome {
	case OutcomeIgnored:
		return "Ignored"
	case OutcomeRejectedEvent:
		if r.Policy != "" {
			return fmt.Sprintf("No indexer, handled with policy %s", r.Policy)
		}
		return "Ignored: no indexer"
	case OutcomeNoDownloadID:
		return "Ignored: no download id"
	case OutcomeNoMatch:
		return "No matching rules"
	case OutcomeFailed:
		return fmt.Sprintf("Error handled with policy %s", r.Policy)
	}
	return "OK"
}

// Decision kinds
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// Decision is the result of an approve or reject.
type Decision struct {
	Kind string
	Hash string

	// QueueRemoved counts *arr queue entries removed on reject
	QueueRemoved int
	QueueErrors  []error
}

// Message is the text returned to the operator.
func (d Decision) Message() string {
	if d.Kind == DecisionReject {
		return "Rejected " + d.Hash
	}
	return "Approved " + d.Hash
}
