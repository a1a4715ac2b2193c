package websocket

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"https://localhost:3000",
	"http://127.0.0.1:3000",
}

// NewUpgrader accepts the default dev origins, the given origins, any
// localhost origin, and requests without an Origin header (non-browser clients).
func NewUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]struct{}, len(defaultAllowedOrigins)+len(allowedOrigins))
	for _, o := range append(append([]string{}, defaultAllowedOrigins...), allowedOrigins...) {
		allowed[strings.TrimRight(strings.TrimSpace(o), "/")] = struct{}{}
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if _, ok := allowed[origin]; ok {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			host := u.Hostname()
			return host == "localhost" || host == "127.0.0.1"
		},
	}
}
