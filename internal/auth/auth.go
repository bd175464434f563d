// Package auth: HTTP Basic с одним общим паролем.
package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/rs/zerolog/hlog"
)

const Realm = `Basic realm="Flare Bin", charset="UTF-8"`

// VerifyCredential принимает пароль и в поле имени пользователя, и в поле пароля:
// curl -u PASSWORD: и curl -u :PASSWORD оба работают.
func VerifyCredential(r *http.Request, password string) bool {
	if password == "" {
		return true
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}

	expected := []byte(password)
	userMatch := subtle.ConstantTimeCompare([]byte(user), expected)
	passMatch := subtle.ConstantTimeCompare([]byte(pass), expected)
	return userMatch|passMatch == 1
}

// Middleware отвечает 401 с приглашением Basic, если пароль не совпал
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !cfg.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !VerifyCredential(r, cfg.Password) {
				hlog.FromRequest(r).Warn().
					Str("remote_addr", r.RemoteAddr).
					Str("path", r.URL.Path).
					Msg("Unauthorized request")
				w.Header().Set("WWW-Authenticate", Realm)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
