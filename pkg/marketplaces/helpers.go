package marketplaces

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/samvad-hq/review-watcher/pkg/httpclient"
)

func responseSnippet(body []byte) string {
	const maxLen = 512
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	if s == "" {
		return "<empty>"
	}
	return s
}

// checkResponse turns transport errors and non-200 statuses into errors.
func checkResponse(resp httpclient.Response, err error, what string) ([]byte, error) {
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", what, err)
	}
	body := resp.Body()
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d body: %s", what, resp.StatusCode(), responseSnippet(body))
	}
	return body, nil
}

func getJSON(ctx context.Context, client httpclient.Client, url, what string, headers map[string]string) ([]byte, error) {
	resp, err := client.Get(ctx, url, headers)
	return checkResponse(resp, err, what)
}

func postJSON(ctx context.Context, client httpclient.Client, url, what string, headers map[string]string, body any) ([]byte, error) {
	resp, err := client.Post(ctx, url, headers, body)
	return checkResponse(resp, err, what)
}
