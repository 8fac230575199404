package engineio

import (
	"net/http"
	"net/url"
)

// Request is a snapshot of the HTTP request that opened a session,
// captured at upgrade time so it stays readable after the request body
// and connection are gone.
type Request struct {
	Headers    http.Header
	URL        string
	RemoteAddr string
	Secure     bool
	Query      url.Values
}

func snapshotRequest(r *http.Request) *Request {
	return &Request{
		Headers:    r.Header.Clone(),
		URL:        r.RequestURI,
		RemoteAddr: r.RemoteAddr,
		Secure:     r.TLS != nil,
		Query:      r.URL.Query(),
	}
}
