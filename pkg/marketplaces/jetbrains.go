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
	jetbrainsBaseURL  = "https://plugins.jetbrains.com"
	jetbrainsFamilies = "intellij,teamcity,hub,fleet,dotnet,space,toolbox"
)

// jetbrains reads plugin comments from the JetBrains Marketplace.
type jetbrains struct {
	src     Source
	baseURL string
	client  HTTPClient
}

// NewJetBrains builds the JetBrains Marketplace adapter.
func NewJetBrains(src Source, client HTTPClient) (Marketplace, error) {
	if client == nil {
		client = DefaultHTTPClient()
	}
	base := strings.TrimRight(src.BaseURL, "/")
	if base == "" {
		base = jetbrainsBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse jetbrains base_url: %w", err)
	}
	if src.PageSize <= 0 {
		src.PageSize = defaultPageSize
	}
	return &jetbrains{src: src, baseURL: base, client: client}, nil
}

func (j *jetbrains) ID() string            { return j.src.ID }
func (j *jetbrains) Type() string          { return TypeJetBrains }
func (j *jetbrains) IdentityField() string { return "id" }

type jetbrainsPlugin struct {
	ID   json.RawMessage `json:"id"`
	Name string          `json:"name"`
	Link string          `json:"link"`
}

// ListExtensions returns the vendor's plugins, keyed by numeric plugin id.
func (j *jetbrains) ListExtensions(ctx context.Context, publisherID string) ([]domain.WatchTarget, error) {
	publisherID = strings.TrimSpace(publisherID)
	if publisherID == "" {
		return nil, fmt.Errorf("jetbrains publisher id is empty")
	}

	q := url.Values{}
	q.Set("families", ConfigString(j.src, ConfigFamiliesKey, jetbrainsFamilies))
	q.Set("page", "1")
	q.Set("size", strconv.Itoa(j.src.PageSize))
	endpoint := fmt.Sprintf("%s/api/vendors/%s/plugins?%s", j.baseURL, url.PathEscape(publisherID), q.Encode())

	body, err := getJSON(ctx, j.client, endpoint, "jetbrains vendor plugins", Headers(j.src))
	if err != nil {
		return nil, err
	}

	var plugins []jetbrainsPlugin
	if err := json.Unmarshal(body, &plugins); err != nil {
		return nil, fmt.Errorf("decode jetbrains vendor plugins: %w", err)
	}

	targets := make([]domain.WatchTarget, 0, len(plugins))
	for i, p := range plugins {
		id := domain.ScalarString(p.ID)
		if id == "" {
			return nil, fmt.Errorf("jetbrains plugin[%d] has no id", i)
		}
		targets = append(targets, domain.WatchTarget{
			Marketplace: j.src.ID,
			ExtensionID: id,
			DisplayName: strings.TrimSpace(p.Name),
		})
	}
	return targets, nil
}

// FetchReviews returns the plugin's comments as a single page.
func (j *jetbrains) FetchReviews(ctx context.Context, target domain.WatchTarget) ([]domain.Review, error) {
	endpoint := fmt.Sprintf("%s/api/plugins/%s/comments", j.baseURL, url.PathEscape(target.ExtensionID))

	body, err := getJSON(ctx, j.client, endpoint, "jetbrains plugin comments", Headers(j.src))
	if err != nil {
		return nil, err
	}

	reviews, err := domain.DecodeReviews(body, j.IdentityField())
	if err != nil {
		return nil, fmt.Errorf("decode jetbrains comments for %s: %w", target.ExtensionID, err)
	}
	return reviews, nil
}

type jetbrainsComment struct {
	ID      json.RawMessage `json:"id"`
	CDate   json.RawMessage `json:"cdate"`
	Comment string          `json:"comment"`
	Rating  *float64        `json:"rating"`
	Plugin  jetbrainsPlugin `json:"plugin"`
	Author  struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"author"`
}

// Translate maps one plugin comment to a review event.
func (j *jetbrains) Translate(target domain.WatchTarget, review domain.Review) (domain.Event, error) {
	var c jetbrainsComment
	if err := json.Unmarshal(review.Raw, &c); err != nil {
		return domain.Event{}, fmt.Errorf("decode jetbrains comment %s: %w", review.ID, err)
	}

	userID := strings.TrimSpace(c.Author.ID)
	if userID == "" {
		return domain.Event{}, fmt.Errorf("jetbrains comment %s has no author.id", review.ID)
	}

	millis, err := strconv.ParseInt(domain.ScalarString(c.CDate), 10, 64)
	if err != nil {
		return domain.Event{}, fmt.Errorf("jetbrains comment %s has invalid cdate: %w", review.ID, err)
	}
	created := time.UnixMilli(millis).UTC()

	text, err := StripHTML(c.Comment)
	if err != nil {
		return domain.Event{}, fmt.Errorf("jetbrains comment %s: %w", review.ID, err)
	}

	name := strings.TrimSpace(c.Plugin.Name)
	if name == "" {
		name = target.DisplayName
	}
	if name == "" {
		name = target.ExtensionID
	}
	link := j.baseURL + strings.TrimSpace(c.Plugin.Link)
	if strings.TrimSpace(c.Plugin.Link) == "" {
		link = j.baseURL + "/plugin/" + target.ExtensionID
	}

	return domain.Event{
		Name:   domain.EventReview,
		UserID: userID,
		Properties: map[string]any{
			"extension": ExtensionLink(link, name),
			"user":      strings.TrimSpace(c.Author.Name),
			"date":      FormatDate(created),
			"review":    BlockQuote(text),
			"rating":    StarRating(c.Rating),
		},
		Marketplace: j.src.ID,
		ExtensionID: target.ExtensionID,
		MessageID:   eventID(target.String(), review.ID),
		Timestamp:   created,
	}, nil
}
