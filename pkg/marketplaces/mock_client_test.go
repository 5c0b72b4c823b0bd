package marketplaces

import (
	"context"
	"errors"
	"testing"

	"github.com/samvad-hq/review-watcher/pkg/httpclient"
)

type mockResponse struct {
	body       []byte
	statusCode int
}

func (r mockResponse) Body() []byte    { return r.body }
func (r mockResponse) StatusCode() int { return r.statusCode }

// mockHTTPClient returns canned responses per URL and records request bodies.
type mockHTTPClient struct {
	t         *testing.T
	responses map[string]mockResponse
	expect    map[string]string
	calls     []string
	posted    []any
}

func (m *mockHTTPClient) respond(url string, headers map[string]string) (httpclient.Response, error) {
	m.calls = append(m.calls, url)
	for key, want := range m.expect {
		if got := headers[key]; got != want {
			m.t.Fatalf("expected header %s=%q, got %q", key, want, got)
		}
	}
	resp, ok := m.responses[url]
	if !ok {
		return nil, errors.New("unexpected url " + url)
	}
	if resp.statusCode == 0 {
		resp.statusCode = 200
	}
	return resp, nil
}

func (m *mockHTTPClient) Get(_ context.Context, url string, headers map[string]string) (httpclient.Response, error) {
	return m.respond(url, headers)
}

func (m *mockHTTPClient) Post(_ context.Context, url string, headers map[string]string, body any) (httpclient.Response, error) {
	m.posted = append(m.posted, body)
	return m.respond(url, headers)
}
