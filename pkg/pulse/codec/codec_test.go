package codec

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/yourusername/pulse/pkg/pulse/header"
)

func TestWriteRequestHeadFormatsRequestLineAndHeaders(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	h := header.New()
	h.Add("Host", "example.com")
	h.Add("Accept", "*/*")

	if err := WriteRequestHead(w, "GET", "/a", "b=1", h); err != nil {
		t.Fatalf("WriteRequestHead: %v", err)
	}

	want := "GET /a?b=1 HTTP/1.1\r\nHost: example.com\r\nAccept: */*\r\n\r\n"
	if got := buf.String(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestWriteRequestHeadDefaultsEmptyPathToSlash(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	if err := WriteRequestHead(w, "GET", "", "", header.New()); err != nil {
		t.Fatalf("WriteRequestHead: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "GET / HTTP/1.1\r\n") {
		t.Fatalf("got %q, want request-target /", buf.String())
	}
}

func TestReadResponseHeadParsesStatusAndHeaders(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\nContent-Type: text/plain\r\n\r\nhello"
	r := bufio.NewReader(strings.NewReader(raw))

	rh, err := ReadResponseHead(r)
	if err != nil {
		t.Fatalf("ReadResponseHead: %v", err)
	}
	if rh.Status != 200 || rh.Reason != "OK" {
		t.Fatalf("got status=%d reason=%q", rh.Status, rh.Reason)
	}
	if rh.ContentLength != 5 || rh.Chunked {
		t.Fatalf("got ContentLength=%d Chunked=%v", rh.ContentLength, rh.Chunked)
	}

	body, _ := BodyReader(r, rh, "GET")
	got, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("body = %q, want hello", got)
	}
}

func TestHasBodyExcludesHeadAndNoContentStatuses(t *testing.T) {
	rh := &ResponseHead{Status: 204, ContentLength: -1}
	if rh.HasBody("GET") {
		t.Fatal("204 should have no body")
	}
	rh = &ResponseHead{Status: 200, ContentLength: -1}
	if rh.HasBody("HEAD") {
		t.Fatal("HEAD response should have no body")
	}
	if !rh.HasBody("GET") {
		t.Fatal("200 GET should have a body")
	}
}

func TestChunkedReaderDecodesChunksAndStopsAtLastChunk(t *testing.T) {
	raw := "5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"
	r := bufio.NewReader(strings.NewReader(raw))
	cr := newChunkedReader(r, 0)

	got, err := io.ReadAll(cr)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("got %q, want %q", got, "hello world")
	}
}

func TestChunkedReaderRejectsOversizedChunk(t *testing.T) {
	raw := "ffffffff\r\n"
	r := bufio.NewReader(strings.NewReader(raw))
	cr := newChunkedReader(r, 16)

	_, err := cr.Read(make([]byte, 4))
	if err != ErrChunkTooLarge {
		t.Fatalf("err = %v, want ErrChunkTooLarge", err)
	}
}

func TestIsUpgradeRequestRequiresBothHeaders(t *testing.T) {
	h := header.New()
	h.Add("Connection", "Upgrade")
	h.Add("Upgrade", "websocket")
	if !IsUpgradeRequest(h) {
		t.Fatal("expected upgrade request to be recognized")
	}

	h2 := header.New()
	h2.Add("Connection", "Upgrade")
	if IsUpgradeRequest(h2) {
		t.Fatal("missing Upgrade header should not be recognized as upgrade")
	}
}
