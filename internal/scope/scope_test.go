package scope

import "testing"

func TestAddStripRoundTrip(t *testing.T) {
	cases := []struct{ scope, local string }{
		{"1:", "main"},
		{"42:", "a"},
		{"7:", ""},
	}
	for _, tc := range cases {
		global := AddScope(tc.scope, tc.local)
		local, ok := StripScope(global)
		if !ok {
			t.Fatalf("StripScope(%q) failed", global)
		}
		if local != tc.local {
			t.Errorf("StripScope(AddScope(%q,%q)) = %q, want %q", tc.scope, tc.local, local, tc.local)
		}
		if got := Of(global); got != tc.scope {
			t.Errorf("Of(%q) = %q, want %q", global, got, tc.scope)
		}
	}
}

func TestStripScopeNoColon(t *testing.T) {
	if _, ok := StripScope("nocolon"); ok {
		t.Fatal("expected failure for channel without scope prefix")
	}
}

func TestOfNoColon(t *testing.T) {
	if got := Of("nocolon"); got != "" {
		t.Errorf("Of(nocolon) = %q, want empty", got)
	}
}

func TestScopeEqualityOnPrefixOnly(t *testing.T) {
	a := AddScope("3:", "x")
	b := AddScope("3:", "y")
	if Of(a) != Of(b) {
		t.Errorf("channels sharing a scope should compare equal on prefix: %q vs %q", Of(a), Of(b))
	}
	c := AddScope("4:", "x")
	if Of(a) == Of(c) {
		t.Error("channels from different scopes must not compare equal")
	}
}
