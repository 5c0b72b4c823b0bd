package marketplaces

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samvad-hq/review-watcher/internal/domain"
)

const (
	vscodeBaseURL    = "https://marketplace.visualstudio.com"
	vscodeAPIVersion = "6.0-preview.1"

	// extension query filter types
	filterTarget        = 8
	filterExcludeFlags  = 12
	filterPublisherName = 18

	vscodeQueryFlags    = 866
	vscodeSortByName    = 4
	vscodeQueryPageSize = 200
)

var vscodeTargets = []string{
	"Microsoft.VisualStudio.Code",
	"Microsoft.VisualStudio.Services",
	"Microsoft.VisualStudio.Services.Cloud",
	"Microsoft.VisualStudio.Services.Integration",
	"Microsoft.VisualStudio.Services.Cloud.Integration",
	"Microsoft.VisualStudio.Services.Resource.Cloud",
	"Microsoft.TeamFoundation.Server",
	"Microsoft.TeamFoundation.Server.Integration",
}

// vscode reads extension reviews from the Visual Studio Marketplace.
type vscode struct {
	src     Source
	baseURL string
	client  HTTPClient
}

// NewVSCode builds the Visual Studio Marketplace adapter.
func NewVSCode(src Source, client HTTPClient) (Marketplace, error) {
	if client == nil {
		client = DefaultHTTPClient()
	}
	base := strings.TrimRight(src.BaseURL, "/")
	if base == "" {
		base = vscodeBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse vscode base_url: %w", err)
	}
	if src.PageSize <= 0 {
		src.PageSize = defaultPageSize
	}
	return &vscode{src: src, baseURL: base, client: client}, nil
}

func (v *vscode) ID() string            { return v.src.ID }
func (v *vscode) Type() string          { return TypeVSCode }
func (v *vscode) IdentityField() string { return "id" }

type extensionQuery struct {
	Filters    []queryFilter `json:"filters"`
	AssetTypes []string      `json:"assetTypes"`
	Flags      int           `json:"flags"`
}

type queryFilter struct {
	Criteria   []queryCriterion `json:"criteria"`
	SortBy     int              `json:"sortBy"`
	PageSize   int              `json:"pageSize"`
	PageNumber int              `json:"pageNumber"`
}

type queryCriterion struct {
	FilterType int    `json:"filterType"`
	Value      string `json:"value"`
}

type extensionQueryResult struct {
	Results []struct {
		Extensions []struct {
			ExtensionName string `json:"extensionName"`
			DisplayName   string `json:"displayName"`
		} `json:"extensions"`
	} `json:"results"`
}

func newExtensionQuery(publisherID string, sortBy int) extensionQuery {
	criteria := []queryCriterion{{FilterType: filterPublisherName, Value: publisherID}}
	for _, t := range vscodeTargets {
		criteria = append(criteria, queryCriterion{FilterType: filterTarget, Value: t})
	}
	criteria = append(criteria, queryCriterion{FilterType: filterExcludeFlags, Value: "37889"})

	return extensionQuery{
		Filters: []queryFilter{{
			Criteria:   criteria,
			SortBy:     sortBy,
			PageSize:   vscodeQueryPageSize,
			PageNumber: 1,
		}},
		AssetTypes: []string{"Microsoft.VisualStudio.Services.Icons.Default"},
		Flags:      vscodeQueryFlags,
	}
}

// ListExtensions queries the gallery for the publisher's extensions. Target
// ids take the form publisher.extensionName.
func (v *vscode) ListExtensions(ctx context.Context, publisherID string) ([]domain.WatchTarget, error) {
	publisherID = strings.TrimSpace(publisherID)
	if publisherID == "" {
		return nil, fmt.Errorf("vscode publisher id is empty")
	}

	endpoint := fmt.Sprintf("%s/_apis/public/gallery/extensionquery?api-version=%s", v.baseURL, vscodeAPIVersion)
	query := newExtensionQuery(publisherID, ConfigInt(v.src, ConfigSortByKey, vscodeSortByName))

	body, err := postJSON(ctx, v.client, endpoint, "vscode extension query", Headers(v.src), query)
	if err != nil {
		return nil, err
	}

	var result extensionQueryResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode vscode extension query: %w", err)
	}
	if len(result.Results) == 0 {
		return nil, nil
	}

	exts := result.Results[0].Extensions
	targets := make([]domain.WatchTarget, 0, len(exts))
	for _, ext := range exts {
		name := strings.TrimSpace(ext.ExtensionName)
		if name == "" {
			continue
		}
		targets = append(targets, domain.WatchTarget{
			Marketplace: v.src.ID,
			ExtensionID: publisherID + "." + name,
			DisplayName: strings.TrimSpace(ext.DisplayName),
		})
	}
	return targets, nil
}

type vscodeReviewPage struct {
	Reviews json.RawMessage `json:"reviews"`
}

// FetchReviews returns the most recent page of reviews for publisher.extension.
func (v *vscode) FetchReviews(ctx context.Context, target domain.WatchTarget) ([]domain.Review, error) {
	publisher, extension, ok := strings.Cut(target.ExtensionID, ".")
	if !ok || publisher == "" || extension == "" {
		return nil, fmt.Errorf("vscode extension id %q is not publisher.extension", target.ExtensionID)
	}

	q := url.Values{}
	q.Set("count", strconv.Itoa(v.src.PageSize))
	q.Set("filterOptions", "1")
	endpoint := fmt.Sprintf("%s/_apis/public/gallery/publishers/%s/extensions/%s/reviews?%s",
		v.baseURL, url.PathEscape(publisher), url.PathEscape(extension), q.Encode())

	body, err := getJSON(ctx, v.client, endpoint, "vscode extension reviews", Headers(v.src))
	if err != nil {
		return nil, err
	}

	var page vscodeReviewPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode vscode reviews for %s: %w", target.ExtensionID, err)
	}
	if len(page.Reviews) == 0 {
		return nil, fmt.Errorf("vscode reviews for %s: response has no reviews field", target.ExtensionID)
	}

	reviews, err := domain.DecodeReviews(page.Reviews, v.IdentityField())
	if err != nil {
		return nil, fmt.Errorf("decode vscode reviews for %s: %w", target.ExtensionID, err)
	}
	return reviews, nil
}

type vscodeReview struct {
	UserID          string   `json:"userId"`
	UserDisplayName string   `json:"userDisplayName"`
	UpdatedDate     string   `json:"updatedDate"`
	Text            string   `json:"text"`
	Rating          *float64 `json:"rating"`
}

// Translate maps one extension review to a review event.
func (v *vscode) Translate(target domain.WatchTarget, review domain.Review) (domain.Event, error) {
	var r vscodeReview
	if err := json.Unmarshal(review.Raw, &r); err != nil {
		return domain.Event{}, fmt.Errorf("decode vscode review %s: %w", review.ID, err)
	}

	userID := strings.TrimSpace(r.UserID)
	if userID == "" {
		return domain.Event{}, fmt.Errorf("vscode review %s has no userId", review.ID)
	}

	updated, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(r.UpdatedDate))
	if err != nil {
		return domain.Event{}, fmt.Errorf("vscode review %s has invalid updatedDate: %w", review.ID, err)
	}

	itemURL := v.baseURL + "/items?itemName=" + url.QueryEscape(target.ExtensionID)

	return domain.Event{
		Name:   domain.EventReview,
		UserID: userID,
		Properties: map[string]any{
			"extension": ExtensionLink(itemURL, target.ExtensionID),
			"user":      strings.TrimSpace(r.UserDisplayName),
			"date":      FormatDate(updated),
			"review":    BlockQuote(r.Text),
			"rating":    StarRating(r.Rating),
		},
		Marketplace: v.src.ID,
		ExtensionID: target.ExtensionID,
		MessageID:   eventID(target.String(), review.ID),
		Timestamp:   updated.UTC(),
	}, nil
}
