package header

import "testing"

func TestSetReplacesAllOccurrencesAtFirstPosition(t *testing.T) {
	m := New()
	m.Add("X-A", "1")
	m.Add("X-B", "2")
	m.Add("x-a", "3")

	m.Set("X-A", "final")

	if got := m.Values("X-A"); len(got) != 1 || got[0] != "final" {
		t.Fatalf("Values(X-A) = %v, want [final]", got)
	}
	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}
}

func TestGetIsCaseInsensitive(t *testing.T) {
	m := New()
	m.Add("Content-Type", "text/plain")

	v, ok := m.Get("content-type")
	if !ok || v != "text/plain" {
		t.Fatalf("Get(content-type) = (%q, %v), want (text/plain, true)", v, ok)
	}
}

func TestMergeRequestWinsDropsLoserEntirely(t *testing.T) {
	c := New()
	c.Add("Content-Type", "text/plain")
	c.Add("Content-Length", "5")

	r := New()
	r.Add("Content-Type", "application/json")
	r.Add("Host", "example.com")

	merged := MergeRequestWins(c, r)

	if got := merged.Values("Content-Type"); len(got) != 1 || got[0] != "application/json" {
		t.Fatalf("Content-Type = %v, want [application/json]", got)
	}
	if got, ok := merged.Get("Content-Length"); !ok || got != "5" {
		t.Fatalf("Content-Length = (%q, %v), want (5, true)", got, ok)
	}
	if got, ok := merged.Get("Host"); !ok || got != "example.com" {
		t.Fatalf("Host = (%q, %v), want (example.com, true)", got, ok)
	}
}

func TestConnectionClose(t *testing.T) {
	m := New()
	m.Add("Connection", "keep-alive, Close")

	if !ConnectionClose(m) {
		t.Fatal("ConnectionClose() = false, want true")
	}
	if ConnectionClose(New()) {
		t.Fatal("ConnectionClose(empty) = true, want false")
	}
}

func TestTokenListContains(t *testing.T) {
	m := New()
	m.Add("Connection", "keep-alive, Upgrade")
	m.Add("Upgrade", "websocket")

	if !TokenListContains(m, "Connection", "upgrade") {
		t.Fatal("expected Connection to contain upgrade token")
	}
	if !m.Has("Upgrade") {
		t.Fatal("expected Upgrade header to be present")
	}
}
