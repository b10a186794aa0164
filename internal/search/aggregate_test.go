package search

import (
	"context"
	"errors"
	"testing"

	"github.com/jenfonro/MeowFilmTV/internal/domain"
	"github.com/jenfonro/MeowFilmTV/internal/magic"
)

func exact(item domain.SearchResultItem) domain.SearchResultItem {
	item.Exact = true
	return item
}

func TestAggregateCardNeedsTwoExactSites(t *testing.T) {
	one := domain.QuerySnapshot{
		Query:        "Example",
		Items:        []domain.SearchResultItem{exact(testItem("a", "1", "Example"))},
		ExactSources: []domain.SourceRef{testItem("a", "1", "Example").SourceRef()},
	}
	if _, ok := AggregateCard(one); ok {
		t.Fatal("a single exact site must not produce a card")
	}
	if _, ok := AggregateCard(domain.QuerySnapshot{}); ok {
		t.Fatal("no matches must not produce a card")
	}

	two := domain.QuerySnapshot{
		Query: "Example",
		Items: []domain.SearchResultItem{
			testItem("c", "9", "Other"),
			exact(testItem("b", "2", "")),
			exact(testItem("a", "1", "Example")),
		},
		ExactSources: []domain.SourceRef{
			testItem("b", "2", "").SourceRef(),
			testItem("a", "1", "Example").SourceRef(),
			testItem("a", "1", "Example").SourceRef(),
		},
	}
	card, ok := AggregateCard(two)
	if !ok {
		t.Fatal("expected card for two exact sites")
	}
	if len(card.Sources) != 2 {
		t.Fatalf("expected deduplicated sources, got %v", card.Sources)
	}
	if card.Title != "Example" {
		t.Fatalf("blank cover title should fall back to the query, got %q", card.Title)
	}
	if card.Poster != "http://img/b/2.jpg" {
		t.Fatalf("poster should come from the first exact item, got %q", card.Poster)
	}
}

func TestGroupItemsExcludesEmptyKeys(t *testing.T) {
	items := []domain.SearchResultItem{
		testItem("a", "1", "Example Movie"),
		testItem("b", "2", "  ！！ "),
		testItem("c", "3", "example-movie"),
		testItem("d", "4", "Another"),
	}
	groups := GroupItems(items, nil)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %+v", groups)
	}
	if groups[0].Key != "examplemovie" || len(groups[0].Items) != 2 {
		t.Fatalf("unexpected first group %+v", groups[0])
	}
}

func TestGroupItemsAppliesAggregateRules(t *testing.T) {
	rules := magic.CompileReplaceRules([]string{`{"pattern":"(.+?)\\s*第[一二三四五六七八九十]+季$","replace":"\\1"}`})
	items := []domain.SearchResultItem{
		testItem("a", "1", "Example 第二季"),
		testItem("b", "2", "Example"),
	}
	groups := GroupItems(items, rules)
	if len(groups) != 1 || len(groups[0].Items) != 2 {
		t.Fatalf("expected rule to merge titles, got %+v", groups)
	}
}

func TestPriorityPrimary(t *testing.T) {
	items := []domain.SearchResultItem{
		testItem("x", "1", "from x"),
		testItem("b", "2", "from b"),
		testItem("a", "3", "from a"),
	}
	tests := []struct {
		name     string
		settings domain.SearchSettings
		want     string
	}{
		{"cover site wins", domain.SearchSettings{CoverSite: "a", SiteOrder: []string{"b", "a"}}, "a"},
		{"lowest priority index", domain.SearchSettings{SiteOrder: []string{"b", "a"}}, "b"},
		{"missing cover falls back to order", domain.SearchSettings{CoverSite: "zz", SiteOrder: []string{"a"}}, "a"},
		{"first seen without order", domain.SearchSettings{}, "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NewPriority(tt.settings).Primary(items)
			if !ok || got.SiteKey != tt.want {
				t.Fatalf("expected primary from %q, got %+v", tt.want, got)
			}
		})
	}
}

func TestAggregatorMergesAndOrders(t *testing.T) {
	session := testSession(4, "a", "b", "c", "d")
	session.Settings = domain.SearchSettings{
		SiteOrder: []string{"b", "a"},
		CoverSite: "a",
	}
	searcher := &fakeSearcher{
		results: map[string][]domain.SearchResultItem{
			"a": {testItem("a", "1", "Example Movie"), testItem("a", "2", "Zeta")},
			"b": {testItem("b", "5", "example movie"), testItem("b", "6", "Alpha")},
			"c": {testItem("c", "7", "Beta")},
		},
		errs: map[string]error{"d": errors.New("timeout")},
	}
	agg := NewAggregator(fakeSessions{session: session}, searcher)

	response, err := agg.Aggregate(context.Background(), " Example Movie ")
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if response.Query != "Example Movie" || response.Sites != 4 || len(response.Errors) != 1 {
		t.Fatalf("unexpected response header: %+v", response)
	}
	if len(response.Items) != 4 {
		t.Fatalf("expected 4 merged results, got %+v", response.Items)
	}
	var merged *domain.AggregatedResult
	for i := range response.Items {
		if len(response.Items[i].Sources) == 2 {
			merged = &response.Items[i]
		}
	}
	if merged == nil || merged.Title != "Example Movie" {
		t.Fatalf("expected cover site title on merged group, got %+v", merged)
	}

	// Groups whose first source is b rank first, then a, then unranked c.
	rank := func(r domain.AggregatedResult) int { return NewPriority(session.Settings).Rank(r.Sources[0].SiteKey) }
	for i := 1; i < len(response.Items); i++ {
		prev, cur := response.Items[i-1], response.Items[i]
		if rank(prev) > rank(cur) || (rank(prev) == rank(cur) && prev.Title > cur.Title) {
			t.Fatalf("results out of order: %q before %q", prev.Title, cur.Title)
		}
	}
	if last := response.Items[len(response.Items)-1]; last.Title != "Beta" {
		t.Fatalf("unranked site should sort last, got %q", last.Title)
	}
}

func TestAggregatorFailures(t *testing.T) {
	searcher := &fakeSearcher{errs: map[string]error{"a": errors.New("boom"), "b": errors.New("bang")}}
	agg := NewAggregator(fakeSessions{session: testSession(2, "a", "b")}, searcher)

	response, err := agg.Aggregate(context.Background(), "  ")
	if err != nil || len(response.Items) != 0 {
		t.Fatalf("blank keyword should yield an empty result, got %+v, %v", response, err)
	}

	if _, err := agg.Aggregate(context.Background(), "q"); err == nil {
		t.Fatal("expected error when every site fails")
	}

	empty := NewAggregator(fakeSessions{session: testSession(1)}, searcher)
	if _, err := empty.Aggregate(context.Background(), "q"); !errors.Is(err, domain.ErrNoSites) {
		t.Fatalf("expected ErrNoSites, got %v", err)
	}
}
