package server

import (
	"bytes"
	"compress/gzip"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"taskmanager/internal/domain/errors"
	"taskmanager/internal/metrics"

	"github.com/gin-gonic/gin"
	nanoid "github.com/jaevor/go-nanoid"
)

const (
	ctxKeyRequestID    = "requestID"
	headerRequestID    = "X-Request-ID"
	maxRequestIDLength = 64
)

// Recovery turns a panic into a logged 500 response.
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(ctx *gin.Context, recovered any) {
		logger.ErrorContext(ctx.Request.Context(), "panic recovered",
			slog.String("request_id", ctx.GetString(ctxKeyRequestID)),
			slog.String("path", ctx.Request.URL.Path),
			slog.Any("panic", recovered),
			slog.String("stack", string(debug.Stack())))
		ctx.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": errors.ErrInternal.Error()})
	})
}

// RequestID reuses a sane incoming X-Request-ID or generates a new one and
// echoes it on the response.
func RequestID() gin.HandlerFunc {
	generate, err := nanoid.Standard(21)
	if err != nil {
		panic(err)
	}
	return func(ctx *gin.Context) {
		id := strings.TrimSpace(ctx.GetHeader(headerRequestID))
		if id == "" || len(id) > maxRequestIDLength {
			id = generate()
		}
		ctx.Set(ctxKeyRequestID, id)
		ctx.Writer.Header().Set(headerRequestID, id)
		ctx.Next()
	}
}

// RequestLogger writes one line per request, at a level chosen by the
// status class.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		status := ctx.Writer.Status()
		attrs := []slog.Attr{
			slog.String("method", ctx.Request.Method),
			slog.String("path", ctx.Request.URL.Path),
			slog.Int("status", status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("request_id", ctx.GetString(ctxKeyRequestID)),
			slog.String("client_ip", ctx.ClientIP()),
		}
		if userID := ctx.GetString(ctxKeyUserID); userID != "" {
			attrs = append(attrs, slog.String("user_id", userID))
		}

		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}
		logger.LogAttrs(ctx.Request.Context(), level, "request", attrs...)
	}
}

// Metrics records request counts and latency by route template.
func Metrics(rec metrics.Recorder) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		rec.RecordRequest(ctx.Request.Method, ctx.FullPath(), ctx.Writer.Status(), time.Since(start))
	}
}

type gzipBody struct {
	io.Reader
	closers []io.Closer
}

func (b *gzipBody) Close() error {
	var first error
	for _, c := range b.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// GzipRequestDecompress transparently inflates gzip encoded request bodies.
func GzipRequestDecompress() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !strings.Contains(strings.ToLower(ctx.GetHeader("Content-Encoding")), "gzip") {
			ctx.Next()
			return
		}
		gr, err := gzip.NewReader(ctx.Request.Body)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errors.ErrInvalidGzipRequest.Error()})
			return
		}
		ctx.Request.Body = &gzipBody{Reader: gr, closers: []io.Closer{gr, ctx.Request.Body}}
		ctx.Request.Header.Del("Content-Encoding")
		ctx.Request.Header.Del("Content-Length")
		ctx.Request.ContentLength = -1
		ctx.Next()
	}
}

// minCompressSize is the smallest body worth compressing. Smaller bodies
// are buffered and written as is.
const minCompressSize = 1024

var gzipWriterPool = sync.Pool{
	New: func() any { return gzip.NewWriter(io.Discard) },
}

var compressibleTypes = []string{
	"application/json",
	"application/javascript",
	"application/xml",
	"text/",
}

// gzipResponseWriter holds back the first bytes of a body until it knows
// whether compression pays off.
type gzipResponseWriter struct {
	gin.ResponseWriter
	gz      *gzip.Writer
	pending bytes.Buffer
	decided bool
}

func (w *gzipResponseWriter) Write(data []byte) (int, error) {
	if w.decided {
		if w.gz != nil {
			if _, err := w.gz.Write(data); err != nil {
				return 0, errors.ErrGzipCompressionFailed
			}
			return len(data), nil
		}
		return w.ResponseWriter.Write(data)
	}

	w.pending.Write(data)
	if w.pending.Len() >= minCompressSize {
		w.decide(true)
		if err := w.flushPending(); err != nil {
			return 0, err
		}
	}
	return len(data), nil
}

func (w *gzipResponseWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *gzipResponseWriter) Flush() {
	if !w.decided {
		w.decide(w.pending.Len() >= minCompressSize)
		_ = w.flushPending()
	}
	if w.gz != nil {
		_ = w.gz.Flush()
	}
	w.ResponseWriter.Flush()
}

func (w *gzipResponseWriter) decide(large bool) {
	w.decided = true
	if !large || !w.compressible() {
		return
	}
	h := w.Header()
	h.Del("Content-Length")
	h.Set("Content-Encoding", "gzip")
	gz := gzipWriterPool.Get().(*gzip.Writer)
	gz.Reset(w.ResponseWriter)
	w.gz = gz
}

func (w *gzipResponseWriter) flushPending() error {
	if w.pending.Len() == 0 {
		return nil
	}
	defer w.pending.Reset()
	if w.gz != nil {
		if _, err := w.gz.Write(w.pending.Bytes()); err != nil {
			return errors.ErrGzipCompressionFailed
		}
		return nil
	}
	_, err := w.ResponseWriter.Write(w.pending.Bytes())
	return err
}

func (w *gzipResponseWriter) compressible() bool {
	switch w.Status() {
	case http.StatusNoContent, http.StatusNotModified, http.StatusPartialContent:
		return false
	}
	if w.Header().Get("Content-Encoding") != "" {
		return false
	}
	ct := strings.ToLower(w.Header().Get("Content-Type"))
	if ct == "" || strings.HasPrefix(ct, "text/event-stream") {
		return false
	}
	for _, prefix := range compressibleTypes {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}

// finish writes out whatever is still buffered and releases the gzip
// writer.
func (w *gzipResponseWriter) finish() error {
	if !w.decided {
		w.decide(false)
	}
	err := w.flushPending()
	if w.gz != nil {
		if cerr := w.gz.Close(); cerr != nil && err == nil {
			err = errors.ErrGzipCompressionFailed
		}
		gzipWriterPool.Put(w.gz)
		w.gz = nil
	}
	return err
}

func addVary(h http.Header, value string) {
	for _, v := range h.Values("Vary") {
		if strings.Contains(v, value) {
			return
		}
	}
	h.Add("Vary", value)
}

// GzipResponseCompress compresses large textual responses for clients that
// accept gzip.
func GzipResponseCompress() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.Request.Method == http.MethodHead ||
			!strings.Contains(strings.ToLower(ctx.GetHeader("Accept-Encoding")), "gzip") {
			ctx.Next()
			return
		}

		addVary(ctx.Writer.Header(), "Accept-Encoding")
		gw := &gzipResponseWriter{ResponseWriter: ctx.Writer}
		ctx.Writer = gw
		defer func() { ctx.Writer = gw.ResponseWriter }()

		ctx.Next()

		if err := gw.finish(); err != nil {
			_ = ctx.Error(err)
		}
	}
}
