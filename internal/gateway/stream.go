package gateway

import (
	"encoding/json"
	"io"
	"strings"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
)

// Stream reads text deltas from a server-sent-event response body.
//
// Bytes are appended to a residual buffer and split on newlines; the last,
// possibly incomplete fragment is carried over to the next read, so content
// is reconstructed correctly regardless of how the response bytes are
// chunked — including splits mid-line and mid-JSON-object. Lines without
// the SSE data prefix are ignored, malformed JSON frames are skipped
// (forward progress over strict parsing), and the [DONE] sentinel
// terminates the sequence.
type Stream struct {
	body    io.ReadCloser
	residue string   // trailing fragment carried between reads
	pending []string // deltas parsed but not yet handed out
	done    bool
	buf     []byte
}

func newStream(body io.ReadCloser) *Stream {
	return &Stream{
		body: body,
		buf:  make([]byte, 4096),
	}
}

// Recv returns the next text delta. It returns io.EOF once the end-of-stream
// sentinel has been observed (or the body is exhausted); any other error is
// a transport failure.
func (s *Stream) Recv() (string, error) {
	for {
		if len(s.pending) > 0 {
			delta := s.pending[0]
			s.pending = s.pending[1:]
			return delta, nil
		}
		if s.done {
			return "", io.EOF
		}

		n, err := s.body.Read(s.buf)
		if n > 0 {
			s.consume(string(s.buf[:n]))
			continue
		}
		if err != nil {
			s.done = true
			if err == io.EOF {
				// Flush any final unterminated line before ending.
				s.parseLine(s.residue)
				s.residue = ""
				continue
			}
			s.body.Close()
			return "", err
		}
	}
}

// Close aborts the stream. Safe to call at any time, including after EOF.
func (s *Stream) Close() error {
	s.done = true
	s.pending = nil
	return s.body.Close()
}

// consume appends chunk to the residual buffer and parses every complete line.
func (s *Stream) consume(chunk string) {
	s.residue += chunk
	for {
		idx := strings.IndexByte(s.residue, '\n')
		if idx < 0 {
			return
		}
		line := s.residue[:idx]
		s.residue = s.residue[idx+1:]
		s.parseLine(line)
		if s.done {
			return
		}
	}
}

// parseLine handles one SSE line, appending any delta content to pending.
func (s *Stream) parseLine(line string) {
	line = strings.TrimRight(line, "\r")
	payload, ok := strings.CutPrefix(line, dataPrefix)
	if !ok {
		return
	}
	if strings.TrimSpace(payload) == doneSentinel {
		s.done = true
		s.body.Close()
		return
	}

	var frame streamFrame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		return
	}
	if len(frame.Choices) == 0 {
		return
	}
	if delta := frame.Choices[0].Delta.Content; delta != "" {
		s.pending = append(s.pending, delta)
	}
}

// --- SSE wire types (unexported) ---

type streamFrame struct {
	Choices []streamChoice `json:"choices"`
}

type streamChoice struct {
	Delta streamDelta `json:"delta"`
}

type streamDelta struct {
	Content string `json:"content"`
}
