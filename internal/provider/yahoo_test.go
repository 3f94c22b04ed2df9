package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"stocksync/internal/models"
)

func newTestYahoo(t *testing.T, handler http.Handler) (*YahooClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewYahooClient(YahooConfig{
		BaseURL:      srv.URL + "/download",
		HandshakeURL: srv.URL + "/quote",
		RequestDelay: time.Millisecond,
	}, zerolog.Nop())
	return client, srv
}

// quotePage builds a handshake response body above the minimum size with the
// crumb embedded the way the quote page does it.
func quotePage(crumb string) string {
	var b strings.Builder
	b.WriteString(strings.Repeat("<!-- padding -->", minHandshakeBodyLen/16+1))
	fmt.Fprintf(&b, `CrumbStore":{"crumb":"%s"}`, crumb)
	return b.String()
}

func TestParseCrumb(t *testing.T) {
	tests := []struct {
		name string
		page string
		want string
	}{
		{
			name: "plain crumb",
			page: `CrumbStore":{"crumb":"abc123"}`,
			want: "abc123",
		},
		{
			name: "escaped solidus is unescaped",
			page: `CrumbStore":{"crumb":"ab/cd"}`,
			want: "ab/cd",
		},
		{
			name: "missing crumb",
			page: `<html>error page</html>`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseCrumb(tt.page); got != tt.want {
				t.Errorf("parseCrumb = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRefreshSessionStoresCookieAndCrumb(t *testing.T) {
	client, _ := newTestYahoo(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/quote/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Set-Cookie", "B=session-token; expires=Mon, 01-Jan-2035 00:00:00 GMT; path=/")
		fmt.Fprint(w, quotePage("tok123"))
	}))

	if err := client.RefreshSession(context.Background(), "AAPL"); err != nil {
		t.Fatalf("RefreshSession: %v", err)
	}

	client.mu.RLock()
	cookie, crumb := client.cookie, client.crumb
	client.mu.RUnlock()

	if cookie != "B=session-token" {
		t.Errorf("cookie = %q, want first Set-Cookie segment", cookie)
	}
	if crumb != "tok123" {
		t.Errorf("crumb = %q, want tok123", crumb)
	}
}

func TestHistoryWithoutSessionIsUnauthorized(t *testing.T) {
	requests := 0
	client, _ := newTestYahoo(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))

	result := client.History(context.Background(), "AAPL", "1mo", models.Date(2010, 1, 1), models.Date(2024, 7, 1))
	if result.Status != StatusUnauthorized {
		t.Errorf("status = %v, want Unauthorized", result.Status)
	}
	if requests != 0 {
		t.Error("a missing session must not hit the network")
	}
}

func TestHistoryStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		code int
		want Status
	}{
		{name: "unauthorized", code: http.StatusUnauthorized, want: StatusUnauthorized},
		{name: "forbidden", code: http.StatusForbidden, want: StatusUnauthorized},
		{name: "not found", code: http.StatusNotFound, want: StatusNotFound},
		{name: "server error", code: http.StatusInternalServerError, want: StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestYahoo(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
			}))
			client.crumb = "tok"
			client.cookie = "B=x"

			result := client.History(context.Background(), "AAPL", "1mo", models.Date(2010, 1, 1), models.Date(2024, 7, 1))
			if result.Status != tt.want {
				t.Errorf("status = %v, want %v", result.Status, tt.want)
			}
		})
	}
}

func TestHistoryParsesRowsAndSkipsMalformed(t *testing.T) {
	const payload = `Date,Open,High,Low,Close,Adj Close,Volume
2024-05-31,10.0,12.0,9.0,11.0,10.5,1000
2024-06-28,null,null,null,null,null,0
2024-06-30,20.0,24.0,18.0,22.0,22.0,2000
`

	var gotCookie, gotCrumb, gotInterval string
	client, _ := newTestYahoo(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		gotCrumb = r.URL.Query().Get("crumb")
		gotInterval = r.URL.Query().Get("interval")
		fmt.Fprint(w, payload)
	}))
	client.crumb = "tok"
	client.cookie = "B=x"

	result := client.History(context.Background(), "AAPL", "1mo", models.Date(2010, 1, 1), models.Date(2024, 7, 1))
	if result.Status != StatusOK {
		t.Fatalf("status = %v (%s), want OK", result.Status, result.Detail)
	}

	if gotCookie != "B=x" || gotCrumb != "tok" || gotInterval != "1mo" {
		t.Errorf("request carried cookie=%q crumb=%q interval=%q", gotCookie, gotCrumb, gotInterval)
	}

	if len(result.Prices) != 2 {
		t.Fatalf("parsed %d rows, want 2 with the null row skipped: %+v", len(result.Prices), result.Prices)
	}

	first := result.Prices[0]
	if !first.Date.Equal(models.Date(2024, 5, 31)) || first.Close != 11.0 || first.AdjClose != 10.5 || first.Volume != 1000 {
		t.Errorf("first row = %+v", first)
	}
}
