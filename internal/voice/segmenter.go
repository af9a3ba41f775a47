package voice

import "strings"

const (
	// firstFlushThreshold forces the first sentence out once the buffer
	// grows past it, even without punctuation, to minimize time-to-first-audio.
	firstFlushThreshold = 25

	// softFlushThreshold caps sentence length after the first emission:
	// past it, the buffer is cut at the last clause punctuation.
	softFlushThreshold = 30

	// minFragmentLen is the shortest text worth synthesizing alone;
	// anything shorter merges with its predecessor.
	minFragmentLen = 20
)

// segmenter turns an incremental text stream into sentences.
//
// Sentences end at terminal punctuation followed by whitespace. Three
// exceptions keep latency and clip length bounded: the first sentence is
// force-flushed past firstFlushThreshold, later overlong buffers are cut at
// clause punctuation past softFlushThreshold, and stream end flushes
// whatever remains. It never yields an empty string.
type segmenter struct {
	buf     string
	emitted int
}

// push appends a delta and returns any sentences completed by it.
func (s *segmenter) push(delta string) []string {
	s.buf += delta

	out := s.splitComplete(nil)

	if s.emitted == 0 && len(strings.TrimSpace(s.buf)) > firstFlushThreshold {
		frag, rest := cutAtLastSpace(s.buf)
		if frag != "" {
			s.buf = rest
			s.emitted++
			out = append(out, frag)
		}
	}

	for s.emitted > 0 && len(strings.TrimSpace(s.buf)) > softFlushThreshold {
		frag, rest, ok := cutAtClause(s.buf)
		if !ok || len(frag) < minFragmentLen {
			break
		}
		s.buf = rest
		s.emitted++
		out = append(out, frag)
	}

	return out
}

// flush ends the stream: remaining complete sentences come out, and any
// final remainder is force-flushed even without terminal punctuation. A
// short remainder merges into the last sentence of this batch if one exists.
func (s *segmenter) flush() []string {
	out := s.splitComplete(nil)

	rest := strings.TrimSpace(s.buf)
	s.buf = ""
	if rest == "" {
		return out
	}
	if len(rest) < minFragmentLen && len(out) > 0 {
		out[len(out)-1] += " " + rest
		return out
	}
	s.emitted++
	return append(out, rest)
}

// splitComplete cuts every fully terminated sentence off the front of the
// buffer. A fragment shorter than minFragmentLen merges into the previous
// fragment of the same batch; with no predecessor it stays buffered and
// grows into the text that follows.
func (s *segmenter) splitComplete(out []string) []string {
	searchFrom := 0
	for {
		b := boundaryIndex(s.buf, searchFrom)
		if b < 0 {
			break
		}
		frag := strings.TrimSpace(s.buf[:b])
		rest := strings.TrimLeft(s.buf[b:], " \t\r\n")
		if frag == "" {
			s.buf = rest
			searchFrom = 0
			continue
		}
		if len(frag) < minFragmentLen {
			if len(out) == 0 {
				// No predecessor to merge into: skip this boundary.
				searchFrom = b
				continue
			}
			out[len(out)-1] += " " + frag
			s.buf = rest
			searchFrom = 0
			continue
		}
		out = append(out, frag)
		s.buf = rest
		searchFrom = 0
	}
	s.emitted += len(out)
	return out
}

// boundaryIndex finds the first sentence boundary at or after from: the
// index just past a terminal punctuation mark that is followed by
// whitespace. Returns -1 if none.
func boundaryIndex(text string, from int) int {
	for i := from; i < len(text)-1; i++ {
		if isTerminal(text[i]) && isSpace(text[i+1]) {
			return i + 1
		}
	}
	return -1
}

// cutAtClause cuts the buffer after its last clause punctuation mark
// (comma, semicolon, colon) that is followed by whitespace.
func cutAtClause(text string) (frag, rest string, ok bool) {
	for i := len(text) - 2; i >= 0; i-- {
		if isClause(text[i]) && isSpace(text[i+1]) {
			return strings.TrimSpace(text[:i+1]), strings.TrimLeft(text[i+1:], " \t\r\n"), true
		}
	}
	return "", "", false
}

// cutAtLastSpace cuts the buffer at its last whitespace so a force flush
// never splits a word. A buffer with no interior whitespace is emitted whole.
func cutAtLastSpace(text string) (frag, rest string) {
	for i := len(text) - 1; i >= 0; i-- {
		if isSpace(text[i]) {
			frag = strings.TrimSpace(text[:i])
			if frag == "" {
				break
			}
			return frag, strings.TrimLeft(text[i:], " \t\r\n")
		}
	}
	return strings.TrimSpace(text), ""
}

func isTerminal(c byte) bool { return c == '.' || c == '!' || c == '?' }
func isClause(c byte) bool   { return c == ',' || c == ';' || c == ':' }
func isSpace(c byte) bool    { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }
