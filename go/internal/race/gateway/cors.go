package gateway

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/cors"
)

// newCORS builds the cross-origin policy for the HTTP routes and the WebSocket handshake.
// An empty origin admits same-origin requests only. "*" admits any origin without credentials.
func newCORS(allowedOrigin string) *cors.Cors {
	options := cors.Options{
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           86400,
	}

	switch allowedOrigin {
	case "":
		options.AllowOriginVaryRequestFunc = func(r *http.Request, origin string) (bool, []string) {
			return sameOrigin(r, origin), nil
		}
	case "*":
		options.AllowedOrigins = []string{"*"}
		options.AllowCredentials = false
	default:
		options.AllowedOrigins = []string{allowedOrigin}
	}
	return cors.New(options)
}

// cookieAuthAllowed reports whether the handshake may authenticate with the token cookie.
// Browsers attach cookies to cross-site WebSocket handshakes, so the cookie is only trusted
// behind a single named origin.
func cookieAuthAllowed(allowedOrigin string) bool {
	return allowedOrigin != "" && allowedOrigin != "*"
}

// checkOrigin applies the same policy to the WebSocket handshake. Clients that send no Origin
// header (non-browser clients) are allowed.
func checkOrigin(c *cors.Cors) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if r.Header.Get("Origin") == "" {
			return true
		}
		return c.OriginAllowed(r)
	}
}

func sameOrigin(r *http.Request, origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
