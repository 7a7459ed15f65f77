package proxy

import (
	"compress/gzip"
	"io"
	"net/http"
)

// decodeUpstreamBody wraps an upstream response body so gzip-compressed
// bytes are transparently inflated. Go's http.Transport only performs this
// automatically when Accept-Encoding is left unset; this proxy sets it
// explicitly (per the outbound header contract), so decompression here is
// manual.
func decodeUpstreamBody(resp *http.Response) (io.ReadCloser, error) {
	if resp.Header.Get("Content-Encoding") != "gzip" {
		return resp.Body, nil
	}
	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return nil, err
	}
	return &gzipReadCloser{gz: gz, underlying: resp.Body}, nil
}

// gzipReadCloser closes both the gzip reader and the underlying body.
type gzipReadCloser struct {
	gz         *gzip.Reader
	underlying io.Closer
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipReadCloser) Close() error {
	gzErr := g.gz.Close()
	bodyErr := g.underlying.Close()
	if gzErr != nil {
		return gzErr
	}
	return bodyErr
}
