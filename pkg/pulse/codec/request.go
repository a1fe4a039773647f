// Package codec frames outbound HTTP/1.1 request heads and parses inbound
// response heads plus body framing. It never touches the network
// directly — callers hand it an io.Writer to write into and a
// *bufio.Reader to read from.
package codec

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/yourusername/pulse/pkg/pulse/header"
)

// WriteRequestHead serializes the request line and headers: the request
// line uses the supplied method verbatim and a request-target of
// path[?query]. merged is the already-merged header map (see
// header.MergeRequestWins) in final wire order.
func WriteRequestHead(w *bufio.Writer, method, path, query string, merged *header.Map) error {
	target := path
	if target == "" {
		target = "/"
	}
	if query != "" {
		target += "?" + query
	}
	if _, err := fmt.Fprintf(w, "%s %s HTTP/1.1\r\n", method, target); err != nil {
		return err
	}
	var werr error
	merged.Each(func(name, value string) {
		if werr != nil {
			return
		}
		_, werr = fmt.Fprintf(w, "%s: %s\r\n", name, value)
	})
	if werr != nil {
		return werr
	}
	_, err := w.WriteString("\r\n")
	if err != nil {
		return err
	}
	return w.Flush()
}

// IsUpgradeRequest reports whether headers carry a matching
// Upgrade/Connection: upgrade pair. Connection.Send does not consult it:
// a 101 response is handled as an upgrade whether or not the request
// carried these headers.
func IsUpgradeRequest(h *header.Map) bool {
	return header.TokenListContains(h, "Connection", "upgrade") && h.Has("Upgrade")
}

// SplitUpgradeToken returns the requested upgrade protocol token (e.g.
// "websocket"), or "" if none.
func SplitUpgradeToken(h *header.Map) string {
	v, _ := h.Get("Upgrade")
	return strings.TrimSpace(v)
}
