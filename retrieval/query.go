package retrieval

import "strings"

// ftsSpecialChars strips FTS5 syntax characters out of free-text user
// queries so a query containing e.g. a bare hyphen or quote never produces
// a MATCH syntax error, grounded on the teacher's sanitizeFTSQuery.
var ftsSpecialChars = strings.NewReplacer(
	"\"", "", "*", "", "(", "", ")", "",
	"+", "", "-", "", "^", "", ":", "",
	"?", "", "[", "", "]", "", "{", "",
	"}", "", "!", "", ".", "", ",", "",
	";", "",
)

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"that": true, "this": true, "was": true, "were": true, "are": true,
	"about": true, "what": true, "when": true, "where": true,
}

// sanitizeFTSQuery turns free text into a safe FTS5 MATCH expression: the
// full cleaned phrase (if multi-word) OR'd with its individual significant
// terms, so a query matches either the exact phrase or any of its words.
func sanitizeFTSQuery(query string) string {
	cleaned := ftsSpecialChars.Replace(query)
	words := strings.Fields(cleaned)
	if len(words) == 0 {
		return query
	}

	var parts []string
	if len(words) > 1 {
		parts = append(parts, `"`+strings.Join(words, " ")+`"`)
	}
	for _, w := range words {
		lower := strings.ToLower(w)
		if len(lower) > 2 && !stopWords[lower] {
			parts = append(parts, lower)
		}
	}
	if len(parts) == 0 {
		return strings.Join(words, " OR ")
	}
	return strings.Join(parts, " OR ")
}
