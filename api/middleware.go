package api

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// RequestIDMiddleware assigns every request a uuid X-Request-ID unless the
// caller supplied one, and echoes it on the response.
func RequestIDMiddleware() echo.MiddlewareFunc {
	return middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	})
}

func requestID(c echo.Context) string {
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		return id
	}
	return c.Request().Header.Get(echo.HeaderXRequestID)
}

// GzipRequestConfig configures GzipRequestMiddlewareWithConfig.
type GzipRequestConfig struct {
	Skipper middleware.Skipper
	// MaxInflatedBytes caps the decompressed body; zero leaves it unbounded.
	MaxInflatedBytes int64
}

// GzipRequestMiddleware inflates gzip-encoded request bodies up to
// requestMaxSize. A malformed gzip header is answered with 400.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return GzipRequestMiddlewareWithConfig(GzipRequestConfig{MaxInflatedBytes: requestMaxSize})
}

func GzipRequestMiddlewareWithConfig(cfg GzipRequestConfig) echo.MiddlewareFunc {
	if cfg.Skipper == nil {
		cfg.Skipper = middleware.DefaultSkipper
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if cfg.Skipper(c) || req.Body == nil || !acceptsGzip(req.Header.Values(echo.HeaderContentEncoding)) {
				return next(c)
			}
			zr, err := gzip.NewReader(req.Body)
			if err != nil {
				_ = req.Body.Close()
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
			}
			req.Body = newInflatedBody(zr, req.Body, cfg.MaxInflatedBytes)
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

// acceptsGzip reports whether any Content-Encoding value lists gzip.
func acceptsGzip(values []string) bool {
	for _, v := range values {
		for enc := range strings.SplitSeq(v, ",") {
			if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
				return true
			}
		}
	}
	return false
}

type inflatedBody struct {
	io.Reader
	zr  *gzip.Reader
	raw io.Closer
}

func newInflatedBody(zr *gzip.Reader, raw io.Closer, limit int64) *inflatedBody {
	b := &inflatedBody{Reader: zr, zr: zr, raw: raw}
	if limit > 0 {
		b.Reader = io.LimitReader(zr, limit)
	}
	return b
}

// Close releases the decompressor and the underlying request body.
func (b *inflatedBody) Close() error {
	return errors.Join(b.zr.Close(), b.raw.Close())
}
