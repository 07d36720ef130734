package journal

import "strings"

// LineSplitter turns arbitrary stream chunks into complete lines. Only
// lines terminated by \n are yielded; a trailing partial stays buffered
// until the next chunk or Rest at stream close.
type LineSplitter struct {
	buf strings.Builder
}

// Feed appends a chunk and returns every complete line it finished.
func (s *LineSplitter) Feed(chunk string) []string {
	if chunk == "" {
		return nil
	}
	s.buf.WriteString(chunk)

	data := s.buf.String()
	idx := strings.LastIndexByte(data, '\n')
	if idx < 0 {
		return nil
	}

	complete := data[:idx]
	rest := data[idx+1:]
	s.buf.Reset()
	s.buf.WriteString(rest)

	var lines []string
	for _, line := range strings.Split(complete, "\n") {
		line = strings.TrimRight(line, "\r")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Rest returns the buffered partial text and clears the buffer.
func (s *LineSplitter) Rest() string {
	rest := s.buf.String()
	s.buf.Reset()
	return rest
}
