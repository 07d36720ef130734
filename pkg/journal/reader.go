package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/agentcompany/agentcompany/pkg/types"
)

// Line is one physical line of a journal, addressed by its 1-based seq.
// Partial marks a trailing line that the file ends without terminating;
// consumers treat it as a parse error, never guessing at its content.
type Line struct {
	Seq     int64
	Raw     string
	Partial bool
}

// maxLineBytes bounds a single journal line. Provider chunks are split
// well below this by the executor.
const maxLineBytes = 8 * 1024 * 1024

// ReadLines returns every non-empty line of the journal in order. A missing
// file yields no lines and no error.
func ReadLines(path string) ([]Line, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	var lines []Line
	var seq int64

	r := bufio.NewReaderSize(f, 64*1024)
	for {
		raw, err := r.ReadString('\n')
		if err != nil && raw == "" {
			break
		}
		terminated := strings.HasSuffix(raw, "\n")
		raw = strings.TrimRight(raw, "\n")
		if strings.TrimSpace(raw) != "" {
			seq++
			if len(raw) > maxLineBytes {
				raw = raw[:maxLineBytes]
			}
			lines = append(lines, Line{Seq: seq, Raw: raw, Partial: !terminated})
		}
		if err != nil {
			break
		}
	}
	return lines, nil
}

// CountLines counts non-empty lines without retaining their content.
func CountLines(path string) (int64, error) {
	lines, err := ReadLines(path)
	if err != nil {
		return 0, err
	}
	return int64(len(lines)), nil
}

// Decode parses one journal line into an envelope. Partial lines and
// malformed JSON both fail; the caller records a parse error for the seq.
func Decode(l Line) (types.Envelope, error) {
	var env types.Envelope
	if l.Partial {
		return env, fmt.Errorf("line %d is unterminated", l.Seq)
	}
	if err := json.Unmarshal([]byte(l.Raw), &env); err != nil {
		return env, fmt.Errorf("failed to parse envelope at line %d: %w", l.Seq, err)
	}
	if env.Type == "" {
		return env, fmt.Errorf("envelope at line %d has no type", l.Seq)
	}
	return env, nil
}

// ReadAll decodes every line, returning envelopes alongside the seqs that
// failed to parse.
func ReadAll(path string) ([]types.Envelope, []Line, error) {
	lines, err := ReadLines(path)
	if err != nil {
		return nil, nil, err
	}
	var envs []types.Envelope
	var bad []Line
	for _, l := range lines {
		env, err := Decode(l)
		if err != nil {
			bad = append(bad, l)
			continue
		}
		envs = append(envs, env)
	}
	return envs, bad, nil
}
