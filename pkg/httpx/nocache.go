// Package httpx holds the HTTP freshness plumbing shared by the gateway
// client and the test service. Security-status endpoints must never be
// answered from a cache, on either side of the wire.
package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ErrCachedResponse reports a response that arrived through a cache on an
// endpoint that feeds a step-up decision. Such a response is discarded
// outright rather than trusted.
var ErrCachedResponse = errors.New("httpx: response served from cache")

// DecorateNoStore marks a request as uncacheable and strips any conditional
// headers, so no intermediary can answer it with a 304 or a stored copy.
func DecorateNoStore(req *http.Request) {
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Del("If-None-Match")
	req.Header.Del("If-Modified-Since")
}

// VerifyUncached rejects a response that shows any sign of having been
// served from a cache: a 304, a non-zero Age, or an X-Cache hit marker.
// A nil return means the response reflects the origin's current state.
func VerifyUncached(resp *http.Response) error {
	if resp.StatusCode == http.StatusNotModified {
		return fmt.Errorf("%w: 304 Not Modified", ErrCachedResponse)
	}

	if age := resp.Header.Get("Age"); age != "" {
		if n, err := strconv.Atoi(age); err == nil && n > 0 {
			return fmt.Errorf("%w: Age=%d", ErrCachedResponse, n)
		}
	}

	if xc := resp.Header.Get("X-Cache"); strings.Contains(strings.ToUpper(xc), "HIT") {
		return fmt.Errorf("%w: X-Cache=%s", ErrCachedResponse, xc)
	}

	return nil
}
