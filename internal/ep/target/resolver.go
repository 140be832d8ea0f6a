// Package target implements the outbound target resolver (C4): turning a
// user-typed destination string into exactly one of {user, party, tag,
// chat} so the agent driver knows which EP send API to call.
package target

import "strings"

// Kind enumerates the resolved target's EP audience type.
type Kind string

const (
	KindUser Kind = "user"
	KindParty Kind = "party"
	KindTag   Kind = "tag"
	KindChat  Kind = "chat"
)

// Resolved is the unambiguous result of Resolve.
type Resolved struct {
	Kind Kind
	ID   string
}

var explicitPrefixes = map[string]Kind{
	"party:": KindParty,
	"dept:":  KindParty,
	"tag:":   KindTag,
	"group:": KindChat,
	"chat:":  KindChat,
	"user:":  KindUser,
}

// platformPrefixes are stripped before classification, e.g. "ep:" or
// "wecom:" namespace markers a caller might prepend.
var platformPrefixes = []string{"ep:", "wecom:"}

// Resolve classifies raw into a single unambiguous target.
//
// Resolution order: strip any platform-namespace prefix, then check for an
// explicit audience-kind prefix, and finally fall back to heuristics: a
// "wr"/"wc" prefix means a chat id, an all-digit string means a department
// (party) id, anything else is treated as a user id.
func Resolve(raw string) Resolved {
	s := strings.TrimSpace(raw)
	for _, p := range platformPrefixes {
		if strings.HasPrefix(s, p) {
			s = strings.TrimPrefix(s, p)
			break
		}
	}

	for prefix, kind := range explicitPrefixes {
		if strings.HasPrefix(s, prefix) {
			return Resolved{Kind: kind, ID: strings.TrimPrefix(s, prefix)}
		}
	}

	if strings.HasPrefix(s, "wr") || strings.HasPrefix(s, "wc") {
		return Resolved{Kind: KindChat, ID: s}
	}
	if isAllDigits(s) && s != "" {
		return Resolved{Kind: KindParty, ID: s}
	}
	return Resolved{Kind: KindUser, ID: s}
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
