package executor

import (
	"io"
	"os"

	"github.com/agentcompany/agentcompany/pkg/journal"
	"github.com/agentcompany/agentcompany/pkg/types"
)

// teeSink copies one subprocess stream three ways: verbatim to an
// outputs file, as provider.raw events preserving chunk boundaries, and
// through a complete-line splitter into a per-line handler.
type teeSink struct {
	st     *runState
	stream string // "stdout" or "stderr"
	file   *os.File
	split  journal.LineSplitter
	lineFn func(line string)
}

func newTeeSink(st *runState, stream, path string, lineFn func(string)) (*teeSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	return &teeSink{st: st, stream: stream, file: f, lineFn: lineFn}, nil
}

// consume drains r until EOF. Partial trailing text never reaches the
// line handler; it is dropped at close like any unterminated line.
func (t *teeSink) consume(r io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			if _, werr := t.file.Write(buf[:n]); werr != nil {
				t.st.logger.Error().Err(werr).Str("stream", t.stream).Msg("Failed to write output file")
			}
			t.st.addChars(t.stream, int64(n))
			t.st.emit(types.EventProviderRaw, map[string]string{
				"stream": t.stream,
				"text":   chunk,
			})
			if t.lineFn != nil {
				for _, line := range t.split.Feed(chunk) {
					t.lineFn(line)
				}
			}
		}
		if err != nil {
			t.split.Rest()
			return
		}
	}
}

func (t *teeSink) close() {
	if err := t.file.Close(); err != nil {
		t.st.logger.Error().Err(err).Str("stream", t.stream).Msg("Failed to close output file")
	}
}
