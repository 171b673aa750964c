package coa

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dvloznov/finance-ledger/internal/apperrors"
)

// Load reads and parses the chart file at path.
func Load(path string) (*Chart, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewParseError(fmt.Sprintf("reading chart of accounts %s", path), err)
	}
	return Parse(data)
}

// Parse decodes a chart of accounts. The document is an array of objects
// whose keys name sections; each section is an array of entries. An entry is
// either a bare string leaf or an object whose keys are node names: an array
// value makes a group, a string value overrides the leaf's ledger key, and
// any other value makes a leaf keyed by its name. Key order is preserved.
// The first occurrence of a section wins.
func Parse(data []byte) (*Chart, error) {
	p := &parser{dec: json.NewDecoder(bytes.NewReader(data))}
	p.dec.UseNumber()

	chart, err := p.chart()
	if err != nil {
		return nil, apperrors.NewParseError("parsing chart of accounts", err)
	}
	return chart, nil
}

type parser struct {
	dec *json.Decoder
}

func (p *parser) chart() (*Chart, error) {
	if err := p.expect('['); err != nil {
		return nil, err
	}

	chart := &Chart{sections: make(map[string][]*Node)}
	for p.dec.More() {
		tok, err := p.dec.Token()
		if err != nil {
			return nil, err
		}
		if d, ok := tok.(json.Delim); !ok || d != '{' {
			if err := p.skip(tok); err != nil {
				return nil, err
			}
			continue
		}

		for p.dec.More() {
			name, err := p.key()
			if err != nil {
				return nil, err
			}
			nodes, err := p.section()
			if err != nil {
				return nil, fmt.Errorf("section %q: %w", name, err)
			}
			if _, dup := chart.sections[name]; dup {
				continue
			}
			chart.sections[name] = nodes
			chart.order = append(chart.order, name)
		}
		if err := p.expect('}'); err != nil {
			return nil, err
		}
	}
	if err := p.expect(']'); err != nil {
		return nil, err
	}
	if _, err := p.dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after chart")
	}
	return chart, nil
}

// section reads a section value. Anything other than an array yields no
// nodes.
func (p *parser) section() ([]*Node, error) {
	tok, err := p.dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, p.skip(tok)
	}
	return p.children()
}

// children reads array entries up to and including the closing bracket.
func (p *parser) children() ([]*Node, error) {
	nodes := []*Node{}
	for p.dec.More() {
		tok, err := p.dec.Token()
		if err != nil {
			return nil, err
		}
		switch v := tok.(type) {
		case string:
			if name := strings.TrimSpace(v); name != "" {
				nodes = append(nodes, &Node{Name: name, LedgerKey: name, Kind: Leaf})
			}
		case json.Delim:
			if v != '{' {
				if err := p.skip(tok); err != nil {
					return nil, err
				}
				continue
			}
			named, err := p.object()
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, named...)
		}
	}
	if err := p.expect(']'); err != nil {
		return nil, err
	}
	return nodes, nil
}

// object reads the members of an entry object after its opening brace.
func (p *parser) object() ([]*Node, error) {
	var nodes []*Node
	for p.dec.More() {
		name, err := p.key()
		if err != nil {
			return nil, err
		}
		n, err := p.node(name)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", name, err)
		}
		if strings.TrimSpace(name) == "" {
			continue
		}
		nodes = append(nodes, n)
	}
	if err := p.expect('}'); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (p *parser) node(name string) (*Node, error) {
	tok, err := p.dec.Token()
	if err != nil {
		return nil, err
	}

	switch v := tok.(type) {
	case json.Delim:
		if v == '[' {
			children, err := p.children()
			if err != nil {
				return nil, err
			}
			return &Node{Name: name, Kind: Group, Children: children}, nil
		}
		if err := p.skip(tok); err != nil {
			return nil, err
		}
	case string:
		if key := strings.TrimSpace(v); key != "" {
			return &Node{Name: name, LedgerKey: key, Kind: Leaf}, nil
		}
	}
	return &Node{Name: name, LedgerKey: name, Kind: Leaf}, nil
}

func (p *parser) key() (string, error) {
	tok, err := p.dec.Token()
	if err != nil {
		return "", err
	}
	s, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("expected object key, got %v", tok)
	}
	return s, nil
}

func (p *parser) expect(want json.Delim) error {
	tok, err := p.dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

// skip consumes the rest of a value whose first token was already read.
func (p *parser) skip(first json.Token) error {
	d, ok := first.(json.Delim)
	if !ok || d == ']' || d == '}' {
		return nil
	}
	for depth := 1; depth > 0; {
		tok, err := p.dec.Token()
		if err != nil {
			return err
		}
		switch tok {
		case json.Delim('['), json.Delim('{'):
			depth++
		case json.Delim(']'), json.Delim('}'):
			depth--
		}
	}
	return nil
}
