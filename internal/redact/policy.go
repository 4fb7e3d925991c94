package redact

import "regexp"

// Strategy selects how a redacted category's values are transformed.
type Strategy string

const (
	// StrategyAnonymize assigns a fresh, stable placeholder per distinct
	// value (user-1@doubleagent.local, User 2, ...).
	StrategyAnonymize Strategy = "anonymize"
	// StrategyHash replaces the value with redacted-<hex> of its SHA1.
	StrategyHash Strategy = "hash"
	// StrategyRemove replaces the value with an empty string.
	StrategyRemove Strategy = "remove"
	// StrategyPlaceholder replaces the value with a fixed constant.
	StrategyPlaceholder Strategy = "placeholder"
)

// CustomRule is a (regex, replacement) pair applied last, across every
// string leaf in the tree, after category redaction.
type CustomRule struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// Policy configures the per-category redaction strategy. Zero value is
// the spec's documented default: anonymize emails and names, placeholder
// avatars, remove phone numbers, hash secrets.
type Policy struct {
	Email   Strategy
	Name    Strategy
	Avatar  Strategy
	Phone   Strategy
	Secret  Strategy
	Custom  []CustomRule
}

// DefaultPolicy returns the spec §4.6 default strategy assignment.
func DefaultPolicy() Policy {
	return Policy{
		Email:  StrategyAnonymize,
		Name:   StrategyAnonymize,
		Avatar: StrategyPlaceholder,
		Phone:  StrategyRemove,
		Secret: StrategyHash,
	}
}

func (p Policy) withDefaults() Policy {
	if p.Email == "" {
		p.Email = StrategyAnonymize
	}
	if p.Name == "" {
		p.Name = StrategyAnonymize
	}
	if p.Avatar == "" {
		p.Avatar = StrategyPlaceholder
	}
	if p.Phone == "" {
		p.Phone = StrategyRemove
	}
	if p.Secret == "" {
		p.Secret = StrategyHash
	}
	return p
}
