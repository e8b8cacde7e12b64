package tools

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/netoneko/meow/internal/llm"
)

// DefaultFetchCap bounds HttpGet response bodies.
const DefaultFetchCap = 64 << 10

// Fetcher performs capped HTTP(S) GET requests.
type Fetcher struct {
	Client  *http.Client
	SizeCap int
}

// NewFetcher builds a fetcher with a TLS-capable transport.
func NewFetcher(sizeCap int, tlsConfig *tls.Config) *Fetcher {
	if sizeCap <= 0 {
		sizeCap = DefaultFetchCap
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}
	return &Fetcher{
		Client:  &http.Client{Transport: transport, Timeout: 30 * time.Second},
		SizeCap: sizeCap,
	}
}

// Get fetches rawURL. Non-2xx statuses, bodies over the cap and non-UTF-8
// bodies are failures.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", llm.Errorf(llm.KindParseError, "fetch", "invalid http(s) url %q", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", llm.NewError(llm.KindParseError, "fetch", err)
	}
	req.Header.Set("User-Agent", "meow")

	resp, err := f.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", llm.NewError(llm.KindCancelled, "fetch", ctx.Err())
		}
		return "", llm.NewError(llm.KindConnectionFailed, "fetch", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(f.SizeCap)+1))
	if err != nil {
		return "", llm.NewError(llm.KindConnectionFailed, "fetch", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", llm.Errorf(llm.KindServerError, "fetch", "GET %s: %s", u.Redacted(), resp.Status)
	}
	if len(body) > f.SizeCap {
		return "", llm.Errorf(llm.KindResourceExceeded, "fetch", "response exceeds %d bytes", f.SizeCap)
	}
	if !utf8.Valid(body) {
		return "", llm.Errorf(llm.KindParseError, "fetch", "response is not valid UTF-8 text")
	}
	return string(body), nil
}

func (f *Fetcher) String() string {
	return fmt.Sprintf("fetcher(cap=%d)", f.SizeCap)
}
