package planner

import (
	"strings"
	"time"

	"github.com/kenny-assistant/kenny/retrieval"
	"github.com/kenny-assistant/kenny/store"
)

// sourceKeywords maps the surface words spec.md §4.6 names to the Sources
// they seed a filter for. Checked longest-phrase-first within a category
// isn't needed here since every keyword is a single word or a short
// alternation already split at match time.
var sourceKeywords = map[string]store.Source{
	"emails":    store.SourceMail,
	"email":     store.SourceMail,
	"mail":      store.SourceMail,
	"texts":     store.SourceMessages,
	"text":      store.SourceMessages,
	"messages":  store.SourceMessages,
	"message":   store.SourceMessages,
	"meeting":   store.SourceCalendar,
	"meetings":  store.SourceCalendar,
	"event":     store.SourceCalendar,
	"events":    store.SourceCalendar,
	"appointment":  store.SourceCalendar,
	"appointments": store.SourceCalendar,
	"chats":     store.SourceChat,
	"chat":      store.SourceChat,
	"notes":     store.SourceNotes,
	"note":      store.SourceNotes,
	"files":     store.SourceFiles,
	"file":      store.SourceFiles,
	"reminders": store.SourceReminders,
	"reminder":  store.SourceReminders,
	"contacts":  store.SourceContacts,
	"contact":   store.SourceContacts,
}

// extractSourceKeywords scans the text for any known source keyword and
// returns the deduplicated set of Sources it implies, plus the text with
// every matched keyword removed.
func extractSourceKeywords(text string) (sources []store.Source, remaining string) {
	words := strings.Fields(text)
	seen := map[store.Source]bool{}
	kept := make([]string, 0, len(words))
	for _, w := range words {
		clean := strings.Trim(strings.ToLower(w), ".,;:!?")
		if src, ok := sourceKeywords[clean]; ok {
			if !seen[src] {
				seen[src] = true
				sources = append(sources, src)
			}
			continue
		}
		kept = append(kept, w)
	}
	return sources, strings.Join(kept, " ")
}

// timePhrase is one recognized relative-time phrase and the function that
// resolves it to an absolute range given "now".
type timePhrase struct {
	phrase string
	resolve func(now time.Time) retrieval.TimeRange
}

var timePhrases = []timePhrase{
	{"yesterday", func(now time.Time) retrieval.TimeRange {
		start := startOfDay(now.AddDate(0, 0, -1))
		return retrieval.TimeRange{From: start.Unix(), To: start.AddDate(0, 0, 1).Unix() - 1}
	}},
	{"today", func(now time.Time) retrieval.TimeRange {
		start := startOfDay(now)
		return retrieval.TimeRange{From: start.Unix(), To: now.Unix()}
	}},
	{"last week", func(now time.Time) retrieval.TimeRange {
		start := startOfWeek(now).AddDate(0, 0, -7)
		return retrieval.TimeRange{From: start.Unix(), To: start.AddDate(0, 0, 7).Unix() - 1}
	}},
	{"this week", func(now time.Time) retrieval.TimeRange {
		start := startOfWeek(now)
		return retrieval.TimeRange{From: start.Unix(), To: now.Unix()}
	}},
	{"last month", func(now time.Time) retrieval.TimeRange {
		start := startOfMonth(now).AddDate(0, -1, 0)
		return retrieval.TimeRange{From: start.Unix(), To: startOfMonth(now).Unix() - 1}
	}},
	{"this month", func(now time.Time) retrieval.TimeRange {
		start := startOfMonth(now)
		return retrieval.TimeRange{From: start.Unix(), To: now.Unix()}
	}},
	{"this year", func(now time.Time) retrieval.TimeRange {
		start := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())
		return retrieval.TimeRange{From: start.Unix(), To: now.Unix()}
	}},
}

// extractTimeRange matches the longest recognized relative-time phrase
// present in the text (so "this month" wins over a bare "month" match)
// and removes it from the returned remainder. Phrases that reference an
// unresolved event ("before the board meeting") aren't handled here: they
// require resolving "board meeting" via a search of their own, which is
// out of scope for a pure, O(length) parse — that text instead survives
// into query_text and is handled as ordinary lexical/semantic matching.
func extractTimeRange(text string) (*retrieval.TimeRange, string) {
	lower := strings.ToLower(text)
	var best *timePhrase
	for i := range timePhrases {
		tp := &timePhrases[i]
		if strings.Contains(lower, tp.phrase) {
			if best == nil || len(tp.phrase) > len(best.phrase) {
				best = tp
			}
		}
	}
	if best == nil {
		return nil, text
	}
	tr := best.resolve(time.Now())
	remaining := removePhraseCaseInsensitive(text, best.phrase)
	return &tr, remaining
}

func removePhraseCaseInsensitive(s, phrase string) string {
	lower := strings.ToLower(s)
	idx := strings.Index(lower, phrase)
	if idx < 0 {
		return s
	}
	return s[:idx] + s[idx+len(phrase):]
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	offset := int(day.Weekday())
	return day.AddDate(0, 0, -offset)
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}
