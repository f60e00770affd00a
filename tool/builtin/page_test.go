package builtin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const samplePage = `<!DOCTYPE html>
<html>
<head><title>Espresso Beans 1kg</title><script>track();</script></head>
<body>
<nav>Home / Shop</nav>
<h1>Espresso Beans 1kg</h1>
<p>Dark roast, freshly ground on order.</p>
<ul><li>Origin: Brazil</li><li>Weight: 1kg</li></ul>
<table><tr><th>Size</th><th>Price</th></tr><tr><td>1kg</td><td>18.50</td></tr></table>
<footer>All rights reserved</footer>
</body>
</html>`

func TestPageSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(samplePage))
	}))
	defer server.Close()

	snapshot := PageSnapshot(WithPageHTTPClient(server.Client()))

	content, err := snapshot.Execute(context.Background(), map[string]interface{}{"url": server.URL})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	if !strings.Contains(content, "# Espresso Beans 1kg") {
		t.Errorf("Expected title heading, got:\n%s", content)
	}
	if !strings.Contains(content, "- Origin: Brazil") {
		t.Errorf("Expected list item, got:\n%s", content)
	}
	if !strings.Contains(content, "| Size | Price |") {
		t.Errorf("Expected table row, got:\n%s", content)
	}
	if strings.Contains(content, "track()") {
		t.Errorf("Expected scripts to be stripped, got:\n%s", content)
	}
	if strings.Contains(content, "All rights reserved") {
		t.Errorf("Expected footer to be stripped, got:\n%s", content)
	}
}

func TestPageSnapshotRejectsBadURL(t *testing.T) {
	snapshot := PageSnapshot()

	for _, raw := range []string{"", "not-a-url", "ftp://example.com/file"} {
		if _, err := snapshot.Execute(context.Background(), map[string]interface{}{"url": raw}); err == nil {
			t.Errorf("Expected error for url %q", raw)
		}
	}
}

func TestPageSnapshotTruncates(t *testing.T) {
	long := "<html><body><p>" + strings.Repeat("beans ", 200) + "</p></body></html>"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(long))
	}))
	defer server.Close()

	snapshot := PageSnapshot(WithPageHTTPClient(server.Client()), WithPageMaxChars(50))

	content, err := snapshot.Execute(context.Background(), map[string]interface{}{"url": server.URL})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if !strings.HasSuffix(content, "[truncated]") {
		t.Errorf("Expected truncation marker, got:\n%s", content)
	}
}

func TestPageSnapshotStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	snapshot := PageSnapshot(WithPageHTTPClient(server.Client()))

	if _, err := snapshot.Execute(context.Background(), map[string]interface{}{"url": server.URL}); err == nil {
		t.Error("Expected error for 404 response")
	}
}
