package schema

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Parse reads a type descriptor such as "struct<x:double,y:int,tags:array<string>>".
func Parse(s string) (*TypeDescription, error) {
	p := &parser{src: s}
	t, err := p.parseType()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("unexpected trailing input")
	}
	return t, nil
}

// MustParse is Parse for constant schemas; it panics on error.
func MustParse(s string) *TypeDescription {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

type parser struct {
	src string
	pos int
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("schema %q at offset %d: %s", p.src, p.pos, fmt.Sprintf(format, args...))
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *parser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) expect(c byte) error {
	p.skipSpace()
	if p.peek() != c {
		return p.errorf("expected %q", c)
	}
	p.pos++
	return nil
}

func (p *parser) ident() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '_' || c == '$' || c == '.' || unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c)) {
			p.pos++
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

func (p *parser) parseType() (*TypeDescription, error) {
	word := strings.ToLower(p.ident())
	if word == "" {
		return nil, p.errorf("expected a type name")
	}
	category, ok := categoryAliases[word]
	if !ok {
		return nil, p.errorf("unknown type %q", word)
	}

	switch category {
	case Struct:
		return p.parseStruct()
	case List:
		if err := p.expect('<'); err != nil {
			return nil, err
		}
		elem, err := p.parseType()
		if err != nil {
			return nil, err
		}
		if err := p.expect('>'); err != nil {
			return nil, err
		}
		return NewList(elem), nil
	case Varchar, Char:
		t := &TypeDescription{Category: category}
		p.skipSpace()
		if p.peek() == '(' {
			p.pos++
			n, err := p.number()
			if err != nil {
				return nil, err
			}
			if err := p.expect(')'); err != nil {
				return nil, err
			}
			t.MaxLength = n
		}
		return t, nil
	default:
		return NewPrimitive(category), nil
	}
}

func (p *parser) number() (int, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		p.pos++
	}
	n, err := strconv.Atoi(p.src[start:p.pos])
	if err != nil || n <= 0 {
		return 0, p.errorf("expected a positive length")
	}
	return n, nil
}

func (p *parser) parseStruct() (*TypeDescription, error) {
	if err := p.expect('<'); err != nil {
		return nil, err
	}
	s := NewStruct()
	seen := make(map[string]bool)
	p.skipSpace()
	if p.peek() == '>' {
		p.pos++
		return s, nil
	}
	for {
		name := p.ident()
		if name == "" {
			return nil, p.errorf("expected a field name")
		}
		if seen[name] {
			return nil, p.errorf("duplicate field %q", name)
		}
		seen[name] = true
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		child, err := p.parseType()
		if err != nil {
			return nil, err
		}
		s.AddField(name, child)

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case '>':
			p.pos++
			return s, nil
		default:
			return nil, p.errorf("expected ',' or '>'")
		}
	}
}
