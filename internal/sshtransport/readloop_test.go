package sshtransport

import (
	"io"
	"testing"
	"time"

	"cockpit-ws/internal/frame"
	"cockpit-ws/internal/session"
)

// TestReadLoopSplitsSizedFramesWithEmbeddedNewlinesAndBinary feeds a real
// io.Reader (no fakeTransport substitution) through Transport.readLoop via
// frame.WriteSizedFrame/ReadSizedFrame, with payloads containing literal
// newlines and arbitrary binary bytes — the exact shape a multi-line
// HTML/CSS resource or a binary resource produces — and asserts the
// (channel, payload) split comes out intact rather than fragmented at the
// embedded newline.
func TestReadLoopSplitsSizedFramesWithEmbeddedNewlinesAndBinary(t *testing.T) {
	stdoutR, stdoutW := io.Pipe()

	tr := &Transport{
		stdout: stdoutR,
		events: make(chan session.Event, 16),
	}
	go tr.readLoop()

	cases := []struct {
		header  []byte
		payload []byte
	}{
		{frame.BuildDataHeader("main"), []byte("line one\nline two\x00\x01\xffbinary\n trailer")},
		{[]byte("\n"), frame.BuildControl(map[string]any{"command": "ping"})},
		{frame.BuildDataHeader("main"), []byte("second chunk, no embedded newline")},
	}

	go func() {
		for _, c := range cases {
			if err := frame.WriteSizedFrame(stdoutW, c.header, c.payload); err != nil {
				t.Errorf("write sized frame: %v", err)
			}
		}
		stdoutW.Close()
	}()

	var got []session.Event
	deadline := time.After(2 * time.Second)
	for len(got) < len(cases) {
		select {
		case ev := <-tr.events:
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %d of %d", len(got), len(cases))
		}
	}

	if got[0].Kind != session.EventRecv || got[0].Channel != "main" || string(got[0].Payload) != string(cases[0].payload) {
		t.Errorf("frame 0: got kind=%v channel=%q payload=%q", got[0].Kind, got[0].Channel, got[0].Payload)
	}
	if got[1].Kind != session.EventControl || got[1].Command.Command != "ping" {
		t.Errorf("frame 1: got kind=%v command=%#v", got[1].Kind, got[1].Command)
	}
	if got[2].Kind != session.EventRecv || got[2].Channel != "main" || string(got[2].Payload) != string(cases[2].payload) {
		t.Errorf("frame 2: got kind=%v channel=%q payload=%q", got[2].Kind, got[2].Channel, got[2].Payload)
	}
}
