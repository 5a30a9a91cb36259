// Package http implements transport.Roundtripper over the git smart
// HTTP protocol: a GET to "<url>/info/refs?service=<service>" for
// discovery and a POST to "<url>/<service>" for negotiation, per
// specification §4.7.
package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	ctxio "github.com/jbenet/go-context/io"
	"golang.org/x/net/http2"
)

// Transport is an http.Roundtripper-backed client. Use New for a
// reasonable default (HTTP/2-only) client.
type Transport struct {
	BaseURL string
	Client  *http.Client

	// UserAgent is sent as the "User-Agent" header, matching git's own
	// convention of advertising the client implementation.
	UserAgent string

	// BasicAuth, if non-nil, is applied to every request.
	BasicAuth *BasicAuth
}

// BasicAuth holds HTTP basic-auth credentials for a git-over-https remote.
type BasicAuth struct {
	Username, Password string
}

// New returns a Transport against baseURL (e.g. "https://example.com/org/repo.git"),
// whose client speaks HTTP/2 only; there is no fallback to HTTP/1.1
// for a server that does not offer HTTP/2.
func New(baseURL string) *Transport {
	client := &http.Client{Transport: &http2.Transport{AllowHTTP: false}}
	return &Transport{BaseURL: baseURL, Client: client, UserAgent: "gitkit/1.0"}
}

func (t *Transport) do(ctx context.Context, method, url string, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", t.UserAgent)
	req.Header.Set("Git-Protocol", "version=2")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if t.BasicAuth != nil {
		req.SetBasicAuth(t.BasicAuth.Username, t.BasicAuth.Password)
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("transport/http: %s %s: status %s", method, url, resp.Status)
	}
	return resp, nil
}

// Discover implements transport.Roundtripper.
func (t *Transport) Discover(ctx context.Context, service string) (io.ReadCloser, error) {
	url := fmt.Sprintf("%s/info/refs?service=%s", t.BaseURL, service)
	resp, err := t.do(ctx, http.MethodGet, url, "", nil)
	if err != nil {
		return nil, err
	}
	return wrapContext(ctx, resp), nil
}

// UploadPack implements transport.Roundtripper.
func (t *Transport) UploadPack(ctx context.Context, body io.Reader) (io.ReadCloser, error) {
	buf, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	url := t.BaseURL + "/git-upload-pack"
	resp, err := t.do(ctx, http.MethodPost, url, "application/x-git-upload-pack-request", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	return wrapContext(ctx, resp), nil
}

// ctxReadCloser pairs a context-aware Reader with the response's own
// Close, so a cancelled ctx unblocks a stalled read without the caller
// needing to race ctx.Done() against Read itself.
type ctxReadCloser struct {
	io.Reader
	resp *http.Response
}

func (c *ctxReadCloser) Close() error { return c.resp.Body.Close() }

func wrapContext(ctx context.Context, resp *http.Response) io.ReadCloser {
	return &ctxReadCloser{Reader: ctxio.NewReader(ctx, resp.Body), resp: resp}
}
