package middleware

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

// DefaultCompressMinLength is the smallest body worth compressing. Error
// envelopes stay plain; question payloads do not.
const DefaultCompressMinLength = 1024

type bufferedWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bufferedWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *bufferedWriter) WriteString(s string) (int, error) { return w.buf.WriteString(s) }

// Brotli compresses response bodies of at least minLength bytes for clients
// that send "Accept-Encoding: br". The body is buffered until the handler
// chain returns. WebSocket upgrades pass through untouched.
func Brotli(minLength int) gin.HandlerFunc {
	if minLength <= 0 {
		minLength = DefaultCompressMinLength
	}
	return func(c *gin.Context) {
		if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") || !acceptsBrotli(c.Request) {
			c.Next()
			return
		}

		orig := c.Writer
		bw := &bufferedWriter{ResponseWriter: orig}
		c.Writer = bw
		c.Next()
		c.Writer = orig

		orig.Header().Add("Vary", "Accept-Encoding")
		body := bw.buf.Bytes()
		if len(body) < minLength {
			orig.WriteHeaderNow()
			if len(body) > 0 {
				_, _ = orig.Write(body)
			}
			return
		}

		orig.Header().Set("Content-Encoding", "br")
		orig.Header().Del("Content-Length")
		orig.WriteHeaderNow()
		enc := brotli.NewWriterLevel(orig, brotli.DefaultCompression)
		if _, err := enc.Write(body); err != nil {
			_ = c.Error(err)
		}
		if err := enc.Close(); err != nil {
			_ = c.Error(err)
		}
	}
}

func acceptsBrotli(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		name, _, _ := strings.Cut(enc, ";")
		if strings.EqualFold(strings.TrimSpace(name), "br") {
			return true
		}
	}
	return false
}
