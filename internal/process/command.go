package process

import (
	"errors"
	"strings"
	"unicode"
)

var errUnclosedQuote = errors.New("unclosed quote in binary path")

// splitCommand splits a binary path into the executable and its leading
// arguments. Single and double quotes group words, a backslash escapes the
// next character.
func splitCommand(command string) ([]string, error) {
	var words []string
	var current strings.Builder
	inWord := false
	quote := rune(0)

	runes := []rune(strings.TrimSpace(command))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inWord = true
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
			inWord = true
		case unicode.IsSpace(r):
			if inWord {
				words = append(words, current.String())
				current.Reset()
				inWord = false
			}
		default:
			current.WriteRune(r)
			inWord = true
		}
	}

	if quote != 0 {
		return nil, errUnclosedQuote
	}
	if inWord {
		words = append(words, current.String())
	}
	return words, nil
}
