package llm

import (
	"regexp"
	"strings"
)

var delimiterToken = regexp.MustCompile(`(?i)\[\s*(begin|end)\s+data[^\]]*\]`)

var dataEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\r\n", `\n`,
	"\n", `\n`,
	"\r", `\n`,
	"\t", `\t`,
)

// EscapeData neutralizes caller-supplied text before it is placed inside a
// prompt: delimiter look-alikes are removed and quotes, backslashes and line
// breaks are escaped so the text cannot start a new instruction line.
// Removal repeats until no token is left, since deleting a nested token can
// join its surroundings into a new one.
func EscapeData(s string) string {
	for {
		stripped := delimiterToken.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	return dataEscaper.Replace(s)
}

// WrapData escapes s and encloses it in labelled data delimiters. Prompts
// instruct the model to treat everything between the delimiters as data.
func WrapData(label, s string) string {
	label = strings.ToUpper(strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '_' {
			return r
		}
		return -1
	}, label))
	return "[BEGIN DATA:" + label + "]\n" + EscapeData(s) + "\n[END DATA:" + label + "]"
}
