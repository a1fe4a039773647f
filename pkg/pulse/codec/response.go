package codec

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/yourusername/pulse/pkg/pulse/header"
)

// ResponseHead is the typed status-line-plus-headers frame produced by
// parsing the start of an HTTP/1.1 response.
type ResponseHead struct {
	Status  int
	Reason  string
	Headers *header.Map

	// ContentLength is -1 when absent (and not chunked).
	ContentLength int64
	Chunked       bool
}

// ReadResponseHead parses the status line and header block from r. On
// return, r's cursor sits exactly at the first byte of the body (or of
// whatever bytes follow, in the 101 case — the caller hands the same
// buffered reader to the raw upgrade stream rather than discarding it).
func ReadResponseHead(r *bufio.Reader) (*ResponseHead, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	status, reason, err := parseStatusLine(line)
	if err != nil {
		return nil, err
	}

	h := header.New()
	for {
		line, err := readLine(r)
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		name, value, ok := splitHeaderLine(line)
		if !ok {
			return nil, fmt.Errorf("codec: malformed header line %q", line)
		}
		h.Add(name, value)
	}

	rh := &ResponseHead{Status: status, Reason: reason, Headers: h, ContentLength: -1}
	if v, ok := h.Get("Transfer-Encoding"); ok && strings.Contains(strings.ToLower(v), "chunked") {
		rh.Chunked = true
	} else if v, ok := h.Get("Content-Length"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("codec: bad Content-Length %q: %w", v, err)
		}
		rh.ContentLength = n
	}
	return rh, nil
}

// HasBody reports whether a response with this head and this request
// method is expected to carry a message body at all: 204, 304 and HEAD
// responses never do, regardless of any Content-Length header present.
func (rh *ResponseHead) HasBody(requestMethod string) bool {
	if requestMethod == "HEAD" {
		return false
	}
	switch rh.Status {
	case 204, 304:
		return false
	}
	if rh.Status >= 100 && rh.Status < 200 {
		return false
	}
	return true
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func parseStatusLine(line string) (int, string, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return 0, "", fmt.Errorf("codec: malformed status line %q", line)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, "", fmt.Errorf("codec: malformed status code in %q: %w", line, err)
	}
	reason := ""
	if len(parts) == 3 {
		reason = parts[2]
	}
	return code, reason, nil
}

func splitHeaderLine(line string) (name, value string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", false
	}
	return line[:idx], strings.TrimSpace(line[idx+1:]), true
}
