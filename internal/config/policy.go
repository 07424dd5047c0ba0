package config

// ErrorPolicy decides what happens to a release when the grab pipeline cannot
// complete (event without an indexer, qBittorrent unreachable, ...).
type ErrorPolicy string

const (
	// PolicyAllow lets the download run: a torrent paused by a rule is resumed
	// and the pending tag it received is removed.
	PolicyAllow ErrorPolicy = "allow"
	// PolicyDeny removes the download and blocklists the release.
	PolicyDeny ErrorPolicy = "deny"
	// PolicyRequireApproval keeps the download paused and asks an operator.
	PolicyRequireApproval ErrorPolicy = "require_approval"
)

// ValidPolicies lists the accepted values in documentation order.
var ValidPolicies = []ErrorPolicy{PolicyAllow, PolicyDeny, PolicyRequireApproval}

// Valid reports whether p is a known policy.
func (p ErrorPolicy) Valid() bool {
	switch p {
	case PolicyAllow, PolicyDeny, PolicyRequireApproval:
		return true
	}
	return false
}

// strictness orders policies so overrides from several rules can be combined.
func (p ErrorPolicy) strictness() int {
	switch p {
	case PolicyAllow:
		return 1
	case PolicyRequireApproval:
		return 2
	case PolicyDeny:
		return 3
	}
	return 0
}

// Stricter returns whichever of p and other is stricter. An empty policy
// never wins against a set one.
func (p ErrorPolicy) Stricter(other ErrorPolicy) ErrorPolicy {
	if other.strictness() > p.strictness() {
		return other
	}
	return p
}

// Or returns p, or fallback when p is unset.
func (p ErrorPolicy) Or(fallback ErrorPolicy) ErrorPolicy {
	if p == "" {
		return fallback
	}
	return p
}
