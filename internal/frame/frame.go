// Package frame implements the cockpit1 wire envelope: a channel header
// line (possibly empty) followed by a newline and a payload, and the JSON
// control-command shape carried in the payload when the channel is empty.
//
// A gorilla/websocket connection already delivers one complete message per
// ReadMessage, so ParseFrame alone is enough to split that message's header
// from its payload. A byte-stream transport (SSH or a local pipe) has no
// such message boundary: a payload containing a literal '\n' would
// otherwise be split mid-frame. ReadSizedFrame/WriteSizedFrame add cockpit's
// own fix for that — a decimal byte-length line in front of each
// header+payload frame — and are used only by internal/sshtransport.
package frame

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Command is a decoded control-frame payload. Channel is nil when the
// command has no channel (it applies to the whole session/socket).
type Command struct {
	Command string
	Channel *string
	Options map[string]any
}

// ParseFrame splits a raw wire message into its channel header and payload.
// ok is false when the message has no newline separator, which is always
// malformed on this wire.
func ParseFrame(b []byte) (channel string, payload []byte, ok bool) {
	idx := bytes.IndexByte(b, '\n')
	if idx < 0 {
		return "", nil, false
	}
	return string(b[:idx]), b[idx+1:], true
}

// ParseCommand decodes a control-frame payload into a Command. ok is false
// when the payload is not a JSON object or lacks a "command" field.
func ParseCommand(payload []byte) (Command, bool) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Command{}, false
	}

	cmdVal, ok := raw["command"]
	if !ok {
		return Command{}, false
	}
	cmdStr, ok := cmdVal.(string)
	if !ok {
		return Command{}, false
	}

	cmd := Command{Command: cmdStr, Options: raw}
	delete(cmd.Options, "command")

	if chVal, ok := raw["channel"]; ok {
		if chStr, ok := chVal.(string); ok {
			cmd.Channel = &chStr
			delete(cmd.Options, "channel")
		}
	}

	return cmd, true
}

// BuildControl serializes fields into a control-frame JSON payload, skipping
// any entry whose value is nil. The caller is responsible for prepending the
// "\n" channel-header separator when writing the frame to the wire.
func BuildControl(fields map[string]any) []byte {
	clean := make(map[string]any, len(fields))
	for k, v := range fields {
		if v == nil {
			continue
		}
		clean[k] = v
	}
	// json.Marshal on a map never fails for the value types this package
	// produces (strings, bools, and nested maps built the same way).
	b, _ := json.Marshal(clean)
	return b
}

// BuildDataHeader builds the "<channel>\n" header bytes for a data frame.
func BuildDataHeader(channel string) []byte {
	return append([]byte(channel), '\n')
}

// BuildControlFrame builds a full control frame: an empty channel header
// followed by the control JSON.
func BuildControlFrame(fields map[string]any) []byte {
	return append([]byte("\n"), BuildControl(fields)...)
}

// WriteSizedFrame writes header immediately followed by payload as one
// size-prefixed frame on a byte-stream transport: a decimal length line
// giving len(header)+len(payload), then exactly that many bytes. header and
// payload are concatenated, behind their size line, into a single buffer
// and written in one Write call so a concurrent writer can't interleave a
// second frame's size line into the middle of this one.
func WriteSizedFrame(w io.Writer, header, payload []byte) error {
	sizeLine := strconv.Itoa(len(header)+len(payload)) + "\n"
	buf := make([]byte, 0, len(sizeLine)+len(header)+len(payload))
	buf = append(buf, sizeLine...)
	buf = append(buf, header...)
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}

// ReadSizedFrame reads one size-prefixed frame from r: a decimal length
// line, then exactly that many header+payload bytes, split with ParseFrame
// the same way an already-whole websocket message is split. Unlike
// ReadBytes('\n'), a payload containing a literal newline or arbitrary
// binary bytes cannot desynchronize the next read, because the length was
// declared up front.
func ReadSizedFrame(r *bufio.Reader) (channel string, payload []byte, err error) {
	sizeLine, err := r.ReadString('\n')
	if err != nil {
		return "", nil, err
	}
	size, err := strconv.Atoi(strings.TrimSuffix(sizeLine, "\n"))
	if err != nil {
		return "", nil, fmt.Errorf("frame: malformed size prefix %q: %w", sizeLine, err)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return "", nil, err
	}
	channel, payload, ok := ParseFrame(body)
	if !ok {
		return "", nil, fmt.Errorf("frame: sized frame missing channel header")
	}
	return channel, payload, nil
}
