package api

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

var (
	corsMethods = strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}, ", ")
	corsHeaders = strings.Join([]string{"Content-Type", "Authorization", "Accept", "Last-Event-ID"}, ", ")
	corsMaxAge  = strconv.Itoa(86400)
)

// cors answers browsers for the origins in Options.CORSOrigins.
type cors struct {
	origins []string // empty or containing "*" allows any origin
}

func newCORS(origins []string) *cors {
	if slices.Contains(origins, "*") {
		origins = nil
	}
	return &cors{origins: origins}
}

// allowedOrigin returns the Access-Control-Allow-Origin value for a request
// from origin, or "" if the origin is not allowed.
func (c *cors) allowedOrigin(origin string) string {
	if len(c.origins) == 0 {
		return "*"
	}
	if origin != "" && slices.Contains(c.origins, origin) {
		return origin
	}
	return ""
}

func (c *cors) setHeaders(set func(name, value string), origin string) {
	allowed := c.allowedOrigin(origin)
	if allowed == "" {
		return
	}
	set("Access-Control-Allow-Origin", allowed)
	if allowed != "*" {
		set("Vary", "Origin")
	}
	set("Access-Control-Allow-Methods", corsMethods)
	set("Access-Control-Allow-Headers", corsHeaders)
	set("Access-Control-Max-Age", corsMaxAge)
}

// middleware sets CORS headers on API operations.
func (c *cors) middleware(ctx huma.Context, next func(huma.Context)) {
	c.setHeaders(ctx.SetHeader, ctx.Header("Origin"))
	next(ctx)
}

// wrap answers OPTIONS preflights ahead of routing. An OPTIONS pattern on
// the mux would turn every unmatched GET or POST into 405 instead of 404.
func (c *cors) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		c.setHeaders(w.Header().Set, r.Header.Get("Origin"))
		w.WriteHeader(http.StatusNoContent)
	})
}
