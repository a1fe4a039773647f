package pulse

import (
	"github.com/yourusername/pulse/pkg/pulse/content"
	"github.com/yourusername/pulse/pkg/pulse/pulseerr"
	"github.com/yourusername/pulse/pkg/pulse/pulsehttp"
)

func isRedirectStatus(status int) bool {
	switch status {
	case 301, 302, 303, 307, 308:
		return true
	}
	return false
}

// Fetch sends req, and when followRedirects is set and the response is a
// redirect with a Location header, drains the intermediate response and
// re-sends to Location — but only for GET requests (non-GET redirects
// fail with ErrAutoRedirectNotSupported). Depth is capped at
// cl.cfg.MaxRedirects to avoid following a redirect cycle forever.
func (cl *Client) Fetch(req *pulsehttp.Request, followRedirects bool) (*pulsehttp.Response, error) {
	resp, err := cl.Do(req)
	if err != nil {
		return nil, err
	}
	if !followRedirects {
		return resp, nil
	}

	depth := 0
	for isRedirectStatus(resp.Status) {
		location, ok := resp.Headers.Get("Location")
		if !ok || location == "" {
			return resp, nil
		}

		if req.Method != "GET" {
			resp.Content.Drain(req.Context())
			return nil, pulseerr.ErrAutoRedirectNotSupported
		}

		depth++
		if depth > cl.cfg.MaxRedirects {
			return resp, nil
		}

		resp.Content.Drain(req.Context())

		next := cl.newRequest("GET", location, content.Empty())
		next.WithContext(req.Context())

		resp, err = cl.Do(next)
		if err != nil {
			return nil, err
		}
		req = next
	}

	return resp, nil
}

// Run fetches req and runs script against the response; the body is
// drained afterward regardless of whether script (or Fetch) succeeded.
func (cl *Client) Run(req *pulsehttp.Request, followRedirects bool, script func(*pulsehttp.Response) error) error {
	resp, err := cl.Fetch(req, followRedirects)
	if err != nil {
		return err
	}
	scriptErr := script(resp)
	drainErr := resp.Content.Drain(req.Context())
	if scriptErr != nil {
		return scriptErr
	}
	return drainErr
}

// RunAndStop runs script(cl) and always calls Stop on return, regardless
// of script's outcome.
func (cl *Client) RunAndStop(script func(*Client) error) error {
	defer cl.Stop()
	return script(cl)
}
