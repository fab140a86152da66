package assign

import "strings"

const (
	markerPrefix = "@worker:"
	endKeyword   = "@end"
)

// TokenKind classifies a lexical token of the block language.
type TokenKind int

const (
	// TokenText is free text between markers.
	TokenText TokenKind = iota
	// TokenMarker opens a block; Text holds the raw worker name.
	TokenMarker
	// TokenEnd closes a block.
	TokenEnd
)

func (k TokenKind) String() string {
	switch k {
	case TokenText:
		return "text"
	case TokenMarker:
		return "marker"
	case TokenEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Token is one lexical unit of orchestrator output.
type Token struct {
	Kind TokenKind
	Text string
}

// Tokenize splits src into text, marker and end tokens. Markers and the end
// keyword are matched case-insensitively; @end must not be followed by a
// letter, digit or underscore so words like @endpoint stay text.
func Tokenize(src string) []Token {
	var (
		tokens    []Token
		textStart int
	)

	flush := func(end int) {
		if end > textStart {
			tokens = append(tokens, Token{Kind: TokenText, Text: src[textStart:end]})
		}
	}

	for i := 0; i < len(src); {
		if src[i] != '@' {
			i++
			continue
		}

		switch {
		case hasPrefixFold(src[i:], markerPrefix):
			flush(i)
			nameStart := i + len(markerPrefix)
			eol := strings.IndexByte(src[nameStart:], '\n')
			if eol < 0 {
				eol = len(src)
			} else {
				eol += nameStart
			}
			tokens = append(tokens, Token{Kind: TokenMarker, Text: src[nameStart:eol]})
			i = eol
			textStart = i
		case isEnd(src, i):
			flush(i)
			tokens = append(tokens, Token{Kind: TokenEnd})
			i += len(endKeyword)
			textStart = i
		default:
			i++
		}
	}
	flush(len(src))

	return tokens
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func isEnd(src string, i int) bool {
	if !hasPrefixFold(src[i:], endKeyword) {
		return false
	}
	next := i + len(endKeyword)
	if next == len(src) {
		return true
	}
	c := src[next]
	return !(c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z')
}
