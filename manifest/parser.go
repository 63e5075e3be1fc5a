package manifest

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

var frontMatterDelim = []byte("---")

// Parser splits a service source file into its manifest front matter and
// code body, the way a static-site generator's front matter works: the
// file begins with a "---" line, a YAML block, a closing "---" line, and
// then the service's code.
type Parser struct{}

// NewParser creates a Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse splits source into (manifest, body), unmarshals the front matter
// into a Manifest, and validates it.
func (p *Parser) Parse(source []byte) (Manifest, []byte, error) {
	front, body, err := splitFrontMatter(source)
	if err != nil {
		return Manifest{}, nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(front, &m); err != nil {
		return Manifest{}, nil, fmt.Errorf("parse manifest: %w", err)
	}

	if err := m.Validate(); err != nil {
		return Manifest{}, nil, err
	}

	return m, body, nil
}

// splitFrontMatter locates the leading "---" delimited block and returns
// the YAML between the delimiters and the remaining body.
func splitFrontMatter(source []byte) (front, body []byte, err error) {
	lines := bytes.Split(source, []byte("\n"))
	if len(lines) == 0 || !bytes.Equal(bytes.TrimSpace(lines[0]), frontMatterDelim) {
		return nil, nil, fmt.Errorf("%w: source does not start with a manifest front-matter block", ErrInvalid)
	}

	for i := 1; i < len(lines); i++ {
		if bytes.Equal(bytes.TrimSpace(lines[i]), frontMatterDelim) {
			front = bytes.Join(lines[1:i], []byte("\n"))
			body = bytes.Join(lines[i+1:], []byte("\n"))
			return front, body, nil
		}
	}

	return nil, nil, fmt.Errorf("%w: unterminated manifest front-matter block", ErrInvalid)
}
