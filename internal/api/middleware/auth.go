package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/newthinker/tradecore/internal/api/response"
	"github.com/newthinker/tradecore/internal/core"
)

// APIKeyAuth returns middleware that requires apiKey on every request except
// the paths in open. An empty apiKey disables the check.
//
// The key is read from X-API-Key, then an Authorization bearer token, then
// the api_key query parameter, which is the only option browser websocket
// clients have.
func APIKeyAuth(apiKey string, open ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(open))
	for _, p := range open {
		skip[p] = true
	}
	want := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			got := providedKey(r)
			if got == "" {
				response.Fail(w, core.Errorf(core.ErrUnauthorized, "missing api key"))
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				response.Fail(w, core.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func providedKey(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("api_key")
}
