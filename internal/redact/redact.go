// Package redact deterministically anonymizes PII in JSON-shaped trees
// (spec §4.6): emails, names, avatar URLs, phone numbers, and
// secret-looking strings. Cross-references survive because the same
// input value always maps to the same output value within one Redactor
// instance.
package redact

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const avatarPlaceholderURL = "https://doubleagent.local/static/avatar-placeholder.png"

var emailRegex = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)

// Redactor holds the per-instance assignment tables that make anonymize
// replacements stable across a whole redaction run: the first time a
// given email or name string is seen it gets a fresh numbered
// placeholder, and every later sighting of the same original value reuses
// it.
type Redactor struct {
	policy Policy

	emailTable map[string]string
	emailNext  int
	nameTable  map[string]string
	nameNext   int
}

// New creates a Redactor with the given policy. Each Redactor is
// stateful and single-use per logical redaction run (e.g. one snapshot
// pull); reusing one across unrelated datasets would let placeholder
// numbering leak between them.
func New(policy Policy) *Redactor {
	return &Redactor{
		policy:     policy.withDefaults(),
		emailTable: map[string]string{},
		nameTable:  map[string]string{},
	}
}

// Redact returns a redacted deep copy of v. v is assumed JSON-shaped
// (map[string]any / []any / scalars), the same assumption jsonval.Clone
// makes. Numbers, booleans, and null pass through unchanged.
func (r *Redactor) Redact(v any) any {
	redacted := r.redactValue("", v)
	return r.applyCustomRules(redacted)
}

func (r *Redactor) redactValue(fieldName string, v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		// Sorted traversal makes "first sighting" for anonymize tables
		// deterministic regardless of Go's randomized map iteration.
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = r.redactValue(k, t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			out[i] = r.redactValue(fieldName, elem)
		}
		return out
	case string:
		return r.redactString(fieldName, t)
	default:
		return v
	}
}

func (r *Redactor) redactString(fieldName, value string) string {
	lname := strings.ToLower(fieldName)
	switch {
	case value == "":
		return value
	case strings.Contains(lname, "email"):
		return r.applyStrategy(r.policy.Email, categoryEmail, value)
	case strings.Contains(lname, "phone"):
		return r.applyStrategy(r.policy.Phone, categoryPhone, value)
	case strings.Contains(lname, "avatar") || strings.Contains(lname, "image"):
		return r.applyStrategy(r.policy.Avatar, categoryAvatar, value)
	case isSecretField(lname):
		return r.applyStrategy(r.policy.Secret, categorySecret, value)
	case strings.Contains(lname, "name"):
		return r.applyStrategy(r.policy.Name, categoryName, value)
	case emailRegex.MatchString(value):
		return r.applyStrategy(r.policy.Email, categoryEmail, value)
	default:
		return value
	}
}

func isSecretField(lname string) bool {
	for _, kw := range []string{"token", "secret", "password", "apikey", "api_key"} {
		if strings.Contains(lname, kw) {
			return true
		}
	}
	return false
}

type category int

const (
	categoryEmail category = iota
	categoryName
	categoryAvatar
	categoryPhone
	categorySecret
)

func (r *Redactor) applyStrategy(strat Strategy, cat category, value string) string {
	switch strat {
	case StrategyRemove:
		return ""
	case StrategyHash:
		return hashValue(value)
	case StrategyPlaceholder:
		if cat == categoryAvatar {
			return avatarPlaceholderURL
		}
		return "[redacted]"
	case StrategyAnonymize:
		return r.anonymize(cat, value)
	default:
		return r.anonymize(cat, value)
	}
}

func (r *Redactor) anonymize(cat category, value string) string {
	switch cat {
	case categoryEmail:
		if existing, ok := r.emailTable[value]; ok {
			return existing
		}
		r.emailNext++
		placeholder := fmt.Sprintf("user-%d@doubleagent.local", r.emailNext)
		r.emailTable[value] = placeholder
		return placeholder
	case categoryName:
		if existing, ok := r.nameTable[value]; ok {
			return existing
		}
		r.nameNext++
		placeholder := fmt.Sprintf("User %d", r.nameNext)
		r.nameTable[value] = placeholder
		return placeholder
	default:
		return hashValue(value)
	}
}

func hashValue(value string) string {
	sum := sha1.Sum([]byte(value))
	return "redacted-" + hex.EncodeToString(sum[:])[:10]
}

func (r *Redactor) applyCustomRules(v any) any {
	if len(r.policy.Custom) == 0 {
		return v
	}
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = r.applyCustomRules(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = r.applyCustomRules(vv)
		}
		return out
	case string:
		for _, rule := range r.policy.Custom {
			t = rule.Pattern.ReplaceAllString(t, rule.Replacement)
		}
		return t
	default:
		return v
	}
}
