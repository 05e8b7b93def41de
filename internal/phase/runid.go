package phase

import "regexp"

var runIDRegex = regexp.MustCompile(`Run ID: ([a-f0-9]{6,16})\b`)

// ExtractRunID returns the token of the first "Run ID: <hex>" marker in text
func ExtractRunID(text string) (string, bool) {
	m := runIDRegex.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}
