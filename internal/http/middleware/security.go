// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides SecurityHeaders, which hardens JSON responses served
// behind a reverse proxy. Proof results and webhook acknowledgements carry a
// holder's name and ID number, so the router enables NoStore for every route.
//
// Notes:
//   - No CSP is sent; the service never returns HTML outside the Swagger UI.
//   - HSTS is opt-in and only emitted for HTTPS requests, including those
//     terminated at a proxy that sets X-Forwarded-Proto.
//   - X-Request-ID is exposed to browsers through
//     Access-Control-Expose-Headers.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures SecurityHeaders.
//
// EnableHSTS should only be set when traffic is HTTPS end-to-end; the header is
// never sent on plain HTTP requests. HSTSMaxAge defaults to 180 days.
//
// NoStore adds Cache-Control: no-store with the legacy Pragma and Expires
// headers. EnablePolicy adds Permissions-Policy and
// X-Permitted-Cross-Domain-Policies, which only browsers act on.
type SecurityOptions struct {
	EnableHSTS   bool
	HSTSMaxAge   time.Duration
	NoStore      bool
	EnablePolicy bool
}

// SecurityHeaders attaches conservative headers for a JSON API.
//
// Always set:
//
//	X-Content-Type-Options: nosniff
//	X-Frame-Options: DENY
//	Referrer-Policy: no-referrer
//
// The remaining headers follow SecurityOptions.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int((180 * 24 * time.Hour).Seconds())
	}
	hsts := "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()

		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}

		if opt.NoStore {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}

		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}

		// Browser clients need to read X-Request-ID to quote it in bug reports.
		if h.Get(RequestIDHeader) != "" {
			const hdr = "Access-Control-Expose-Headers"
			cur := h.Get(hdr)
			if cur == "" {
				h.Set(hdr, RequestIDHeader)
			} else if !strings.Contains(cur, RequestIDHeader) {
				h.Set(hdr, cur+", "+RequestIDHeader)
			}
		}

		c.Next()
	}
}

// isHTTPS honours X-Forwarded-Proto from a fronting proxy.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
