package marketplaces

import (
	"context"
	"strings"
	"testing"

	"github.com/samvad-hq/review-watcher/internal/domain"
)

const jetbrainsComments = `[
  {
    "id": 90008,
    "cdate": "1694785746000",
    "comment": "<p>Great tool for great framewrok</p>\n",
    "plugin": {"id": 13234, "name": "Quarkus Tools", "link": "/plugin/13234-quarkus-tools"},
    "rating": 5,
    "author": {"id": "ab5b4050-b4fb-409d-9bbd-6fa5cb2de378", "name": "Cedric Thiebault"}
  },
  {
    "id": 90010,
    "cdate": 1694785746000,
    "comment": "meh",
    "plugin": {"id": 13234, "name": "Quarkus Tools", "link": "/plugin/13234-quarkus-tools"},
    "author": {"id": "u2", "name": "Someone"}
  }
]`

func newTestJetBrains(t *testing.T, client *mockHTTPClient) Marketplace {
	t.Helper()
	mp, err := NewJetBrains(Source{ID: "jetbrains", Type: TypeJetBrains, BaseURL: "https://plugins.example.com"}, client)
	if err != nil {
		t.Fatalf("NewJetBrains: %v", err)
	}
	return mp
}

func TestJetBrainsListExtensions(t *testing.T) {
	client := &mockHTTPClient{
		t: t,
		responses: map[string]mockResponse{
			"https://plugins.example.com/api/vendors/Red-Hat/plugins?families=intellij%2Cteamcity%2Chub%2Cfleet%2Cdotnet%2Cspace%2Ctoolbox&page=1&size=100": {
				body: []byte(`[{"id":13234,"name":"Quarkus Tools"},{"id":"9999","name":"Other"}]`),
			},
		},
		expect: map[string]string{"Accept": "application/json"},
	}

	targets, err := newTestJetBrains(t, client).ListExtensions(context.Background(), "Red-Hat")
	if err != nil {
		t.Fatalf("ListExtensions: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(targets))
	}
	if targets[0].ExtensionID != "13234" || targets[0].DisplayName != "Quarkus Tools" || targets[0].Marketplace != "jetbrains" {
		t.Fatalf("unexpected target %#v", targets[0])
	}
	if targets[1].ExtensionID != "9999" {
		t.Fatalf("string ids should be kept, got %#v", targets[1])
	}
}

func TestJetBrainsFetchReviews(t *testing.T) {
	client := &mockHTTPClient{
		t: t,
		responses: map[string]mockResponse{
			"https://plugins.example.com/api/plugins/13234/comments": {body: []byte(jetbrainsComments)},
		},
	}

	reviews, err := newTestJetBrains(t, client).FetchReviews(context.Background(), domain.WatchTarget{Marketplace: "jetbrains", ExtensionID: "13234"})
	if err != nil {
		t.Fatalf("FetchReviews: %v", err)
	}
	if len(reviews) != 2 || reviews[0].ID != "90008" || reviews[1].ID != "90010" {
		t.Fatalf("unexpected reviews %#v", reviews)
	}
}

func TestJetBrainsFetchReviewsRejectsNonArray(t *testing.T) {
	client := &mockHTTPClient{
		t: t,
		responses: map[string]mockResponse{
			"https://plugins.example.com/api/plugins/1/comments": {body: []byte(`{"error":"nope"}`)},
		},
	}

	if _, err := newTestJetBrains(t, client).FetchReviews(context.Background(), domain.WatchTarget{ExtensionID: "1"}); err == nil {
		t.Fatalf("expected decode error for non-array response")
	}
}

func TestJetBrainsFetchReviewsRejectsNullBody(t *testing.T) {
	client := &mockHTTPClient{
		t: t,
		responses: map[string]mockResponse{
			"https://plugins.example.com/api/plugins/1/comments": {body: []byte(`null`)},
		},
	}

	reviews, err := newTestJetBrains(t, client).FetchReviews(context.Background(), domain.WatchTarget{ExtensionID: "1"})
	if err == nil {
		t.Fatalf("expected fetch error for null body, got %d reviews", len(reviews))
	}
}

func TestJetBrainsFetchReviewsHandlesNon200(t *testing.T) {
	client := &mockHTTPClient{
		t: t,
		responses: map[string]mockResponse{
			"https://plugins.example.com/api/plugins/1/comments": {body: []byte("oops"), statusCode: 503},
		},
	}

	_, err := newTestJetBrains(t, client).FetchReviews(context.Background(), domain.WatchTarget{ExtensionID: "1"})
	if err == nil || !strings.Contains(err.Error(), "status 503") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestJetBrainsTranslate(t *testing.T) {
	client := &mockHTTPClient{t: t}
	mp := newTestJetBrains(t, client)
	reviews, err := domain.DecodeReviews([]byte(jetbrainsComments), "id")
	if err != nil {
		t.Fatalf("DecodeReviews: %v", err)
	}
	target := domain.WatchTarget{Marketplace: "jetbrains", ExtensionID: "13234"}

	evt, err := mp.Translate(target, reviews[0])
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if evt.Name != "review" || evt.UserID != "ab5b4050-b4fb-409d-9bbd-6fa5cb2de378" {
		t.Fatalf("unexpected identity %q/%q", evt.Name, evt.UserID)
	}
	want := map[string]any{
		"extension": "<https://plugins.example.com/plugin/13234-quarkus-tools|Quarkus Tools>",
		"user":      "Cedric Thiebault",
		"date":      "15/09/2023 - 13:49:06",
		"review":    "> Great tool for great framewrok",
		"rating":    "⭐⭐⭐⭐⭐",
	}
	for k, v := range want {
		if evt.Properties[k] != v {
			t.Errorf("property %s = %q want %q", k, evt.Properties[k], v)
		}
	}
	if evt.MessageID == "" || evt.Timestamp.IsZero() {
		t.Fatalf("expected message id and timestamp, got %#v", evt)
	}

	evt, err = mp.Translate(target, reviews[1])
	if err != nil {
		t.Fatalf("Translate numeric cdate: %v", err)
	}
	if evt.Properties["rating"] != neutralGlyph {
		t.Fatalf("missing rating should be neutral, got %q", evt.Properties["rating"])
	}
}

func TestJetBrainsTranslateRequiresAuthor(t *testing.T) {
	mp := newTestJetBrains(t, &mockHTTPClient{t: t})
	_, err := mp.Translate(domain.WatchTarget{ExtensionID: "1"}, domain.Review{ID: "1", Raw: []byte(`{"id":1,"cdate":"1"}`)})
	if err == nil {
		t.Fatalf("expected error for missing author")
	}
}
