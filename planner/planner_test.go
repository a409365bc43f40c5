package planner

import (
	"context"
	"testing"

	"github.com/kenny-assistant/kenny/retrieval"
	"github.com/kenny-assistant/kenny/store"
)

type fakeContacts struct {
	names []string
	err   error
}

func (f fakeContacts) ContactNames(ctx context.Context) ([]string, error) {
	return f.names, f.err
}

func TestPlanExtractsSourceKeywordAsFilter(t *testing.T) {
	plan := parse("show me emails about the budget", nil)
	if len(plan.Filters.Sources) != 1 || plan.Filters.Sources[0] != store.SourceMail {
		t.Fatalf("expected a mail source filter, got %+v", plan.Filters.Sources)
	}
	if plan.Intent != IntentFind {
		t.Fatalf("expected find intent, got %s", plan.Intent)
	}
}

func TestPlanExtractsPersonFromContacts(t *testing.T) {
	plan := parse("find messages from Alice Smith about the trip", []string{"Alice Smith", "Bob Jones"})
	if len(plan.Entities.People) != 1 || plan.Entities.People[0] != "Alice Smith" {
		t.Fatalf("expected Alice Smith extracted, got %+v", plan.Entities.People)
	}
	if len(plan.Filters.Sources) != 1 || plan.Filters.Sources[0] != store.SourceMessages {
		t.Fatalf("expected a messages source filter, got %+v", plan.Filters.Sources)
	}
}

func TestPlanExtractsRelativeTimePhrase(t *testing.T) {
	plan := parse("notes from last month about the renovation", nil)
	if plan.Filters.TimeRange == nil {
		t.Fatalf("expected a time range to be extracted")
	}
	if plan.Filters.TimeRange.From >= plan.Filters.TimeRange.To {
		t.Fatalf("expected a well-formed time range, got %+v", plan.Filters.TimeRange)
	}
}

func TestPlanFallsBackToLexicalSearchOnUnmatchedText(t *testing.T) {
	plan := parse("xyzzy plugh", nil)
	if plan.QueryText == "" {
		t.Fatalf("expected unmatched text to populate query_text")
	}
	if plan.Intent != IntentFind {
		t.Fatalf("expected the default fallback intent to be find, got %s", plan.Intent)
	}
}

func TestPlanIsDeterministicForTheSameInput(t *testing.T) {
	a := parse("find emails from Alice Smith about renewals", []string{"Alice Smith"})
	b := parse("find emails from Alice Smith about renewals", []string{"Alice Smith"})
	if a.Intent != b.Intent || a.QueryText != b.QueryText {
		t.Fatalf("expected identical plans for identical input, got %+v vs %+v", a, b)
	}
	if len(a.Entities.People) != len(b.Entities.People) || a.Entities.People[0] != b.Entities.People[0] {
		t.Fatalf("expected identical person extraction, got %+v vs %+v", a.Entities, b.Entities)
	}
}

func TestPlanDetectsCountAggregation(t *testing.T) {
	plan := parse("how many emails from Alice Smith", []string{"Alice Smith"})
	if plan.Aggregation != AggregationCount {
		t.Fatalf("expected count aggregation, got %s", plan.Aggregation)
	}
}

func TestPlanRecoversFromContactLookupFailure(t *testing.T) {
	p := New(fakeContacts{err: context.DeadlineExceeded}, nil, nil)
	plan, err := p.Plan(context.Background(), "find notes about the garden")
	if err != nil {
		t.Fatalf("expected Plan to tolerate a contact lookup failure, got %v", err)
	}
	if plan.QueryText == "" {
		t.Fatalf("expected a usable plan despite the lookup failure")
	}
}

func TestFuseByDocIDSumsScoresAndDedupsAcrossBothSearches(t *testing.T) {
	a := []retrieval.SearchHit{{DocID: "d1", Score: 0.6}, {DocID: "d2", Score: 0.3}}
	b := []retrieval.SearchHit{{DocID: "d1", Score: 0.4}, {DocID: "d3", Score: 0.2}}

	fused := fuseByDocID(a, b)
	if len(fused) != 3 {
		t.Fatalf("expected 3 deduped documents, got %d", len(fused))
	}
	for _, h := range fused {
		if h.DocID == "d1" && h.Score != 1.0 {
			t.Fatalf("expected d1's score summed to 1.0, got %f", h.Score)
		}
	}
}
