package workspace

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

var frontmatterDelim = []byte("---\n")

// ParseFrontmatter splits a markdown document into its YAML frontmatter
// (decoded into out) and its body. A document without frontmatter is an
// error: every task, artifact and help request carries one.
func ParseFrontmatter(data []byte, out interface{}) (body string, err error) {
	if !bytes.HasPrefix(data, frontmatterDelim) {
		return "", fmt.Errorf("document has no frontmatter")
	}
	rest := data[len(frontmatterDelim):]
	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		return "", fmt.Errorf("unterminated frontmatter")
	}
	header := rest[:end+1]
	body = string(bytes.TrimLeft(rest[end+len("\n---"):], "-\n"))

	if err := yaml.Unmarshal(header, out); err != nil {
		return "", fmt.Errorf("failed to parse frontmatter: %w", err)
	}
	return body, nil
}

// EncodeFrontmatter renders a markdown document with YAML frontmatter.
func EncodeFrontmatter(meta interface{}, body string) ([]byte, error) {
	header, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(header)
	buf.WriteString("---\n")
	if body != "" {
		buf.WriteString("\n")
		buf.WriteString(body)
		if !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
			buf.WriteString("\n")
		}
	}
	return buf.Bytes(), nil
}
