package gateway

import (
	"io"
	"testing"
)

// chunkReader hands out a body in fixed pre-cut chunks so tests control
// exactly where the transport splits the byte stream.
type chunkReader struct {
	chunks []string
	closed bool
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n < len(r.chunks[0]) {
		r.chunks[0] = r.chunks[0][n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func (r *chunkReader) Close() error {
	r.closed = true
	return nil
}

func drain(t *testing.T, s *Stream) []string {
	t.Helper()
	var deltas []string
	for {
		delta, err := s.Recv()
		if err == io.EOF {
			return deltas
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		deltas = append(deltas, delta)
	}
}

func TestStream_WholeLines(t *testing.T) {
	body := &chunkReader{chunks: []string{
		"data: {\"choices\":[{\"delta\":{\"content\":\"one\"}}]}\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"two\"}}]}\n",
		"data: [DONE]\n",
	}}
	deltas := drain(t, newStream(body))
	if len(deltas) != 2 || deltas[0] != "one" || deltas[1] != "two" {
		t.Errorf("deltas = %v, want [one two]", deltas)
	}
	if !body.closed {
		t.Error("body not closed after [DONE]")
	}
}

func TestStream_SplitMidJSON(t *testing.T) {
	// One event arrives over three reads, cut inside the JSON object.
	body := &chunkReader{chunks: []string{
		"data: {\"choices\":[{\"del",
		"ta\":{\"content\":\"hel",
		"lo\"}}]}\ndata: [DONE]\n",
	}}
	deltas := drain(t, newStream(body))
	if len(deltas) != 1 || deltas[0] != "hello" {
		t.Errorf("deltas = %v, want [hello]", deltas)
	}
}

func TestStream_SplitMidPrefix(t *testing.T) {
	body := &chunkReader{chunks: []string{
		"da",
		"ta: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\nda",
		"ta: [DO",
		"NE]\n",
	}}
	deltas := drain(t, newStream(body))
	if len(deltas) != 1 || deltas[0] != "x" {
		t.Errorf("deltas = %v, want [x]", deltas)
	}
}

func TestStream_IgnoresNonDataLines(t *testing.T) {
	body := &chunkReader{chunks: []string{
		": keepalive\n",
		"event: message\n",
		"\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n",
		"data: [DONE]\n",
	}}
	deltas := drain(t, newStream(body))
	if len(deltas) != 1 || deltas[0] != "ok" {
		t.Errorf("deltas = %v, want [ok]", deltas)
	}
}

func TestStream_SkipsMalformedFrames(t *testing.T) {
	body := &chunkReader{chunks: []string{
		"data: {not json}\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"after\"}}]}\n",
		"data: [DONE]\n",
	}}
	deltas := drain(t, newStream(body))
	if len(deltas) != 1 || deltas[0] != "after" {
		t.Errorf("deltas = %v, want [after]", deltas)
	}
}

func TestStream_HaltsAtDone(t *testing.T) {
	// Content after the sentinel must not be surfaced.
	body := &chunkReader{chunks: []string{
		"data: {\"choices\":[{\"delta\":{\"content\":\"kept\"}}]}\n",
		"data: [DONE]\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"dropped\"}}]}\n",
	}}
	deltas := drain(t, newStream(body))
	if len(deltas) != 1 || deltas[0] != "kept" {
		t.Errorf("deltas = %v, want [kept]", deltas)
	}
}

func TestStream_EOFWithoutSentinel(t *testing.T) {
	// An unterminated final line is still flushed when the body ends.
	body := &chunkReader{chunks: []string{
		"data: {\"choices\":[{\"delta\":{\"content\":\"tail\"}}]}",
	}}
	deltas := drain(t, newStream(body))
	if len(deltas) != 1 || deltas[0] != "tail" {
		t.Errorf("deltas = %v, want [tail]", deltas)
	}
}

func TestStream_CRLFLines(t *testing.T) {
	body := &chunkReader{chunks: []string{
		"data: {\"choices\":[{\"delta\":{\"content\":\"crlf\"}}]}\r\n",
		"data: [DONE]\r\n",
	}}
	deltas := drain(t, newStream(body))
	if len(deltas) != 1 || deltas[0] != "crlf" {
		t.Errorf("deltas = %v, want [crlf]", deltas)
	}
}
