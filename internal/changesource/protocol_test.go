package changesource

import (
	"strings"
	"testing"
)

func TestBuildQueryRequestIncludesRootAndSince(t *testing.T) {
	req, err := buildQueryRequest("/home/user/docs", "sub/dir", "c:123")
	if err != nil {
		t.Fatalf("buildQueryRequest: %v", err)
	}
	s := string(req)
	if !strings.Contains(s, `"/home/user/docs"`) {
		t.Fatalf("request missing watch root: %s", s)
	}
	if !strings.Contains(s, `"sub/dir"`) {
		t.Fatalf("request missing relative root: %s", s)
	}
	if !strings.Contains(s, `"c:123"`) {
		t.Fatalf("request missing since clock: %s", s)
	}
}

func TestBuildQueryRequestOmitsEmptySince(t *testing.T) {
	req, err := buildQueryRequest("/home/user/docs", "", "")
	if err != nil {
		t.Fatalf("buildQueryRequest: %v", err)
	}
	if strings.Contains(string(req), "since") {
		t.Fatalf("expected no since field on first query: %s", req)
	}
	if strings.Contains(string(req), "relative_root") {
		t.Fatalf("expected no relative_root field for a root watch: %s", req)
	}
}

func TestBuildSubscribeRequestIncludesName(t *testing.T) {
	req, err := buildSubscribeRequest("/home/user/docs", "pdsyncd:/home/user/docs", "")
	if err != nil {
		t.Fatalf("buildSubscribeRequest: %v", err)
	}
	if !strings.Contains(string(req), "pdsyncd:/home/user/docs") {
		t.Fatalf("request missing subscription name: %s", req)
	}
}

func TestParseQueryResultRoundTrips(t *testing.T) {
	body := []byte(`{
		"clock": "c:456",
		"is_fresh_instance": true,
		"files": [
			{"name": "a.txt", "exists": true, "type": "f", "size": 12, "mtime_ms": 1000, "ino": 7, "new": true, "content": {"sha1hex": "abc"}},
			{"name": "old.txt", "exists": false, "type": "f"}
		]
	}`)
	result := parseQueryResult(body)
	if result.Clock != "c:456" || !result.IsFreshInstance {
		t.Fatalf("unexpected clock/fresh: %+v", result)
	}
	if len(result.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(result.Files))
	}
	if result.Files[0].Name != "a.txt" || result.Files[0].Inode != 7 || !result.Files[0].New {
		t.Fatalf("unexpected first file: %+v", result.Files[0])
	}
	if result.Files[1].Exists {
		t.Fatalf("expected second file to be marked removed")
	}
}

func TestParseVersionMissingFieldErrors(t *testing.T) {
	if _, err := parseVersion([]byte(`{}`)); err == nil {
		t.Fatalf("expected error for missing version field")
	}
}

func TestParseErrorDetectsErrorField(t *testing.T) {
	if _, ok := parseError([]byte(`{"clock":"c:1"}`)); ok {
		t.Fatalf("expected no error detected")
	}
	msg, ok := parseError([]byte(`{"error":"boom"}`))
	if !ok || msg != "boom" {
		t.Fatalf("expected error \"boom\", got %q ok=%v", msg, ok)
	}
}
