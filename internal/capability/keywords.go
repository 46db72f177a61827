package capability

import (
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {}, "on": {},
	"for": {}, "with": {}, "about": {}, "me": {}, "my": {}, "i": {}, "you": {}, "your": {},
	"is": {}, "are": {}, "what": {}, "which": {}, "show": {}, "find": {}, "search": {},
	"list": {}, "look": {}, "up": {}, "please": {}, "can": {}, "any": {}, "all": {},
	"some": {}, "there": {}, "have": {}, "do": {}, "we": {}, "catalog": {}, "database": {},
	"files": {}, "file": {}, "bucket": {}, "items": {}, "item": {}, "things": {},
}

// keywords lowercases text, drops punctuation and stopwords, and keeps order.
func keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' && r != '.' && r != '/'
	})
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{})
	for _, f := range fields {
		f = strings.Trim(f, "-_./")
		if len(f) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
