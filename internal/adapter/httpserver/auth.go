package httpserver

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/fairyhunter13/filetools-bot/internal/domain"
)

// WebhookAuth authorizes processor callbacks. A request passes when it
// carries the shared api key (header or query parameter "apikey") or
// when its Origin/Referer host is on the allowlist. Allowlist entries
// starting with a dot match any subdomain.
func WebhookAuth(secret string, allowedHosts []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := authorizeWebhook(r, secret, allowedHosts); err != nil {
				LoggerFrom(r).Warn("webhook auth rejected",
					"origin", r.Header.Get("Origin"),
					"referer", r.Header.Get("Referer"))
				writeEnvelopeError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func authorizeWebhook(r *http.Request, secret string, allowedHosts []string) error {
	if secret != "" {
		key := r.Header.Get("apikey")
		if key == "" {
			key = r.URL.Query().Get("apikey")
		}
		if key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(secret)) == 1 {
			return nil
		}
	}
	for _, h := range []string{r.Header.Get("Origin"), r.Header.Get("Referer")} {
		if h == "" {
			continue
		}
		if host := hostname(h); host != "" && hostAllowed(host, allowedHosts) {
			return nil
		}
	}
	return fmt.Errorf("%w: webhook caller not recognized", domain.ErrUnauthorized)
}

func hostname(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.Host == "" {
		// A bare host without scheme still counts.
		return strings.ToLower(strings.Split(raw, "/")[0])
	}
	return strings.ToLower(u.Hostname())
}

func hostAllowed(host string, allowed []string) bool {
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, ".") {
			if strings.HasSuffix(host, a) || host == strings.TrimPrefix(a, ".") {
				return true
			}
			continue
		}
		if host == a {
			return true
		}
	}
	return false
}
