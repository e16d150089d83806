package diagnostics

import (
	"strings"
	"testing"
	"time"
)

func TestRenderIncludesLiveCounters(t *testing.T) {
	snap := Snapshot{
		SessionsActive: 3,
		SocketsActive:  5,
		CallersActive:  2,
		CacheHits:      10,
		CacheMisses:    1,
		Uptime:         90 * time.Second,
	}
	out, err := Render(snap)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"<html", "Active sessions", "Active sockets"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered page missing %q:\n%s", want, out)
		}
	}
}

func TestRenderIsValidHTMLShell(t *testing.T) {
	out, err := Render(Snapshot{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "<!DOCTYPE html>") {
		t.Error("expected HTML doctype")
	}
}
