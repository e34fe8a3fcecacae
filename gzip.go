package panini

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const (
	headerAcceptEncoding  = "Accept-Encoding"
	headerContentEncoding = "Content-Encoding"
	headerContentLength   = "Content-Length"
	headerContentType     = "Content-Type"
	headerVary            = "Vary"
)

// Gzip is a middleware that compresses the output of all subsequent handlers
// for clients that accept gzip.
//
// For example, to gzip everything you could use:
//
//	app.Use(panini.Gzip)
//	...use as normal...
//
// Streaming responses are compressed chunk by chunk, flushing after every
// chunk so the client still receives data incrementally.
//
// Note that this does NOT auto-detect the content and disable compression for
// already-compressed data (e.g. jpg images).
var Gzip Middleware = RequestMiddleware(gzipResponse)

func gzipResponse(ctx context.Context, req *Request, next Handler) (*Response, error) {
	resp, err := next.Handle(ctx, req)
	if err != nil || resp == nil || resp.IsCommitted() {
		return resp, err
	}
	if !strings.Contains(req.Headers().Get(headerAcceptEncoding), "gzip") ||
		resp.Header.Has(headerContentEncoding) {
		return resp, nil
	}

	if resp.Stream == nil {
		if !resp.Header.Has(headerContentType) && len(resp.Body) > 0 {
			resp.Header.Set(headerContentType, http.DetectContentType(resp.Body))
		}
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(resp.Body); err != nil {
			return nil, err
		}
		if err := gz.Close(); err != nil {
			return nil, err
		}
		resp.Body = buf.Bytes()
	} else {
		resp.Stream = gzipStream(resp.Stream)
	}
	resp.Header.Set(headerContentEncoding, "gzip")
	resp.Header.Set(headerVary, headerAcceptEncoding)
	resp.Header.Del(headerContentLength)
	return resp, nil
}

func gzipStream(fn StreamFunc) StreamFunc {
	return func(ctx context.Context, write func([]byte) error) error {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		emit := func() error {
			if buf.Len() == 0 {
				return nil
			}
			chunk := append([]byte(nil), buf.Bytes()...)
			buf.Reset()
			return write(chunk)
		}
		err := fn(ctx, func(chunk []byte) error {
			if _, err := gz.Write(chunk); err != nil {
				return err
			}
			if err := gz.Flush(); err != nil {
				return err
			}
			return emit()
		})
		if err != nil {
			return err
		}
		if err := gz.Close(); err != nil {
			return err
		}
		return emit()
	}
}
