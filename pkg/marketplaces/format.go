package marketplaces

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
)

const (
	dateLayout = "02/01/2006 - 15:04:05"

	starGlyph    = "\u2b50"     // ⭐
	neutralGlyph = "\U0001f610" // 😐
)

// eventNamespace scopes deterministic event message ids.
var eventNamespace = uuid.MustParse("6f1c1d2e-3a6b-4f53-9b7e-2f8f6f0d7a41")

// FormatDate renders t as dd/MM/yyyy - HH:mm:ss in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// BlockQuote prefixes every line of text with "> ".
func BlockQuote(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n")
}

// StarRating returns one star per whole rating point, or a neutral face when
// the rating is missing or below one.
func StarRating(rating *float64) string {
	if rating == nil {
		return neutralGlyph
	}
	full := int(*rating)
	if full <= 0 {
		return neutralGlyph
	}
	return strings.Repeat(starGlyph, full)
}

// ExtensionLink renders a Slack-style <url|label> link.
func ExtensionLink(url, label string) string {
	return fmt.Sprintf("<%s|%s>", url, label)
}

// blockElements are rendered on lines of their own.
const blockElements = "p, li, pre, blockquote, div, h1, h2, h3, h4, h5, h6"

// StripHTML extracts the text of an HTML fragment, decoding entities and
// keeping paragraph and line breaks as newlines. Blank lines are dropped.
func StripHTML(fragment string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find(blockElements).Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("\n")
		s.AppendHtml("\n")
	})

	lines := strings.Split(doc.Text(), "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n"), nil
}

// eventID derives a stable message id for one review on one extension.
func eventID(target, reviewID string) string {
	return uuid.NewSHA1(eventNamespace, []byte(target+"\x00"+reviewID)).String()
}
