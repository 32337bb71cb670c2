package server

import (
	"bytes"
	"io"
	"net/http"
	"net/url"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// FiberResponseWriter adapts a Fiber context to http.ResponseWriter so that
// net/http handlers such as promhttp can write through it.
type FiberResponseWriter struct {
	ctx    *fiber.Ctx
	status int
	header http.Header
}

// NewFiberResponseWriter creates a new FiberResponseWriter adapter
func NewFiberResponseWriter(ctx *fiber.Ctx) *FiberResponseWriter {
	return &FiberResponseWriter{
		ctx:    ctx,
		status: http.StatusOK,
		header: make(http.Header),
	}
}

func (w *FiberResponseWriter) Header() http.Header {
	return w.header
}

// Write flushes pending headers and status, then the body
func (w *FiberResponseWriter) Write(data []byte) (int, error) {
	for key, values := range w.header {
		for _, value := range values {
			w.ctx.Set(key, value)
		}
	}
	w.ctx.Status(w.status)
	return w.ctx.Write(data)
}

func (w *FiberResponseWriter) WriteHeader(statusCode int) {
	w.status = statusCode
}

// HTTPHandler serves a net/http handler from a Fiber route
func HTTPHandler(h http.Handler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		req := &http.Request{
			Method:     c.Method(),
			URL:        &url.URL{Path: c.Path(), RawQuery: string(c.Request().URI().QueryString())},
			Header:     make(http.Header),
			Body:       io.NopCloser(bytes.NewReader(c.Body())),
			Host:       string(c.Request().Host()),
			RequestURI: c.OriginalURL(),
		}
		req = req.WithContext(c.UserContext())
		c.Request().Header.VisitAll(func(key, value []byte) {
			req.Header.Add(string(key), string(value))
		})

		w := NewFiberResponseWriter(c)
		h.ServeHTTP(w, req)
		if w.status != http.StatusOK {
			c.Status(w.status)
		}
		return nil
	}
}

// MetricsHandler serves the default prometheus registry
func MetricsHandler() fiber.Handler {
	return HTTPHandler(promhttp.Handler())
}
