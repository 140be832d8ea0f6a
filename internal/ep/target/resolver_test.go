package target

import "testing"

func TestResolveExplicitPrefixes(t *testing.T) {
	cases := map[string]Kind{
		"party:100":  KindParty,
		"dept:100":   KindParty,
		"tag:5":      KindTag,
		"group:abcd": KindChat,
		"chat:abcd":  KindChat,
		"user:zhang": KindUser,
	}
	for input, wantKind := range cases {
		got := Resolve(input)
		if got.Kind != wantKind {
			t.Errorf("Resolve(%q).Kind = %s, want %s", input, got.Kind, wantKind)
		}
	}
}

func TestResolveHeuristics(t *testing.T) {
	if got := Resolve("wr123abc"); got.Kind != KindChat {
		t.Errorf("expected chat for wr-prefixed id, got %s", got.Kind)
	}
	if got := Resolve("wc456def"); got.Kind != KindChat {
		t.Errorf("expected chat for wc-prefixed id, got %s", got.Kind)
	}
	if got := Resolve("10086"); got.Kind != KindParty {
		t.Errorf("expected party for all-digit id, got %s", got.Kind)
	}
	if got := Resolve("zhangsan"); got.Kind != KindUser {
		t.Errorf("expected user fallback, got %s", got.Kind)
	}
}

func TestResolveStripsPlatformPrefix(t *testing.T) {
	got := Resolve("wecom:party:100")
	if got.Kind != KindParty || got.ID != "100" {
		t.Errorf("unexpected resolution: %#v", got)
	}
}
