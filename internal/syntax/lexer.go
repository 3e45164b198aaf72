package syntax

import (
	"fmt"
	"strings"
	"text/scanner"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokInt
	tokFloat
	tokString
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	pos  scanner.Position
}

// Two-character operators, keyed by their first character.
var compound = map[rune][]string{
	'=': {"==", "=>"},
	'!': {"!="},
	'<': {"<="},
	'>': {">="},
	'&': {"&&"},
	'|': {"||"},
	'?': {"??"},
}

func tokenize(filename, src string) ([]token, error) {
	var (
		s      scanner.Scanner
		tokens []token
		errs   []string
	)
	s.Init(strings.NewReader(src))
	s.Filename = filename
	s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats | scanner.ScanStrings | scanner.ScanRawStrings | scanner.ScanComments | scanner.SkipComments
	s.Error = func(s *scanner.Scanner, msg string) {
		errs = append(errs, fmt.Sprintf("%s: %s", s.Position, msg))
	}

	for tok := s.Scan(); tok != scanner.EOF; tok = s.Scan() {
		t := token{text: s.TokenText(), pos: s.Position}
		switch tok {
		case scanner.Ident:
			t.kind = tokIdent
		case scanner.Int:
			t.kind = tokInt
		case scanner.Float:
			t.kind = tokFloat
		case scanner.String, scanner.RawString:
			t.kind = tokString
		default:
			t.kind = tokPunct
			for _, op := range compound[tok] {
				if s.Peek() == rune(op[1]) {
					s.Next()
					t.text = op
					break
				}
			}
		}
		tokens = append(tokens, t)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	tokens = append(tokens, token{kind: tokEOF, pos: s.Pos()})
	return tokens, nil
}
