package ws

import (
	"encoding/binary"
	"strings"
)

const frameHeaderSize = 8

// Demuxer incrementally parses a Docker multiplexed log stream into
// console lines. Each frame is an 8-byte header (stream type, three
// zero bytes, big-endian payload length) followed by the payload.
// The engine delivers unframed bytes when the container runs a TTY,
// so a structurally invalid header flips the remaining input to raw
// UTF-8 instead of failing.
type Demuxer struct {
	frame []byte
	line  []byte
}

func validHeader(h []byte) bool {
	return h[0] <= 2 && h[1] == 0 && h[2] == 0 && h[3] == 0
}

// Feed consumes a chunk and returns the complete lines it finished.
// Partial frames and partial lines carry over to the next call.
func (d *Demuxer) Feed(chunk []byte) []string {
	d.frame = append(d.frame, chunk...)

	for len(d.frame) > 0 {
		if len(d.frame) < frameHeaderSize {
			// Could still become a valid header; wait unless the
			// bytes already rule one out.
			if validPrefix(d.frame) {
				break
			}
			d.line = append(d.line, d.frame...)
			d.frame = nil
			break
		}

		if !validHeader(d.frame) {
			d.line = append(d.line, d.frame...)
			d.frame = nil
			break
		}

		length := binary.BigEndian.Uint32(d.frame[4:8])
		if uint32(len(d.frame)-frameHeaderSize) < length {
			break
		}

		d.line = append(d.line, d.frame[frameHeaderSize:frameHeaderSize+length]...)
		d.frame = d.frame[frameHeaderSize+length:]
	}

	return d.splitLines()
}

func validPrefix(b []byte) bool {
	if len(b) > 0 && b[0] > 2 {
		return false
	}
	for i := 1; i < len(b) && i < 4; i++ {
		if b[i] != 0 {
			return false
		}
	}
	return true
}

// splitLines drains completed lines from the assembly buffer, keeping
// the trailing incomplete line for the next chunk.
func (d *Demuxer) splitLines() []string {
	var lines []string
	for {
		idx := -1
		for i, b := range d.line {
			if b == '\n' {
				idx = i
				break
			}
		}
		if idx < 0 {
			return lines
		}
		line := strings.TrimSuffix(string(d.line[:idx]), "\r")
		d.line = d.line[idx+1:]
		lines = append(lines, line)
	}
}

// Flush returns whatever partial line remains, for use at stream end.
func (d *Demuxer) Flush() string {
	out := strings.TrimSuffix(string(d.line), "\r")
	d.line = nil
	return out
}
