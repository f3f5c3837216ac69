package ws

import (
	"encoding/binary"
	"strings"
	"testing"
)

func frame(streamType byte, payload string) []byte {
	header := make([]byte, frameHeaderSize)
	header[0] = streamType
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
	return append(header, payload...)
}

func TestDemuxerFramedStream(t *testing.T) {
	d := &Demuxer{}

	chunk := append(frame(1, "hello world\n"), frame(2, "an error line\n")...)
	lines := d.Feed(chunk)

	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d: %v", len(lines), lines)
	}
	if lines[0] != "hello world" || lines[1] != "an error line" {
		t.Errorf("Unexpected lines: %v", lines)
	}
}

func TestDemuxerPayloadSplitAcrossFrames(t *testing.T) {
	d := &Demuxer{}

	var lines []string
	lines = append(lines, d.Feed(frame(1, "partial "))...)
	lines = append(lines, d.Feed(frame(1, "line\n"))...)

	if len(lines) != 1 || lines[0] != "partial line" {
		t.Errorf("Expected reassembled line, got %v", lines)
	}
}

func TestDemuxerFrameSplitAcrossChunks(t *testing.T) {
	d := &Demuxer{}

	full := frame(1, "split frame\n")
	var lines []string
	lines = append(lines, d.Feed(full[:5])...)
	lines = append(lines, d.Feed(full[5:])...)

	if len(lines) != 1 || lines[0] != "split frame" {
		t.Errorf("Expected line across chunk boundary, got %v", lines)
	}
}

func TestDemuxerConcatenationProperty(t *testing.T) {
	d := &Demuxer{}

	payloads := []string{"one ", "two ", "three\nfour\n"}
	var stream []byte
	for i, p := range payloads {
		stream = append(stream, frame(byte(i%3), p)...)
	}

	lines := d.Feed(stream)
	got := strings.Join(lines, "\n")
	if got != "one two three\nfour" {
		t.Errorf("Parser must yield the concatenation of payloads, got %q", got)
	}
}

func TestDemuxerRawFallback(t *testing.T) {
	d := &Demuxer{}

	// A TTY stream: first byte is printable ASCII, not a stream type.
	lines := d.Feed([]byte("[Server] Done (3.14s)! For help, type \"help\"\r\n"))
	if len(lines) != 1 {
		t.Fatalf("Expected raw fallback line, got %v", lines)
	}
	if lines[0] != `[Server] Done (3.14s)! For help, type "help"` {
		t.Errorf("Expected CR trimmed raw line, got %q", lines[0])
	}
}

func TestDemuxerRawFallbackWholeSequence(t *testing.T) {
	d := &Demuxer{}

	raw := "no newline at all"
	if lines := d.Feed([]byte(raw)); len(lines) != 0 {
		t.Fatalf("No complete line expected, got %v", lines)
	}
	if got := d.Flush(); got != raw {
		t.Errorf("Entire invalid sequence must surface as one payload, got %q", got)
	}
}

func TestDemuxerCRLFAndBareLF(t *testing.T) {
	d := &Demuxer{}

	lines := d.Feed([]byte("a\r\nb\nc"))
	if len(lines) != 2 || lines[0] != "a" || lines[1] != "b" {
		t.Errorf("Expected [a b], got %v", lines)
	}
	if got := d.Flush(); got != "c" {
		t.Errorf("Trailing incomplete line must be kept, got %q", got)
	}
}

func TestSanitizeServerID(t *testing.T) {
	cases := map[string]string{
		"s1":           "s1",
		"abc-DEF_9":    "abc-DEF_9",
		"../../etc":    "etc",
		"id with ws":   "idwithws",
		"we%ird;chars": "weirdchars",
	}
	for in, want := range cases {
		if got := SanitizeServerID(in); got != want {
			t.Errorf("SanitizeServerID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeCommand(t *testing.T) {
	cases := map[string]string{
		"say hello":        "say hello",
		`say "hello"`:      "say hello",
		"  say hi  ":       "say hi",
		"stop\x00\x1b[31m": "stop[31m",
		"op 'player'":      "op player",
		"\x07\x07":         "",
		"café":             "caf",
	}
	for in, want := range cases {
		if got := sanitizeCommand(in); got != want {
			t.Errorf("sanitizeCommand(%q) = %q, want %q", in, got, want)
		}
	}
}
