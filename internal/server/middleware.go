package server

import (
	"net/http"
	"time"

	"github.com/emrgen/salesdb/internal/model"
	"github.com/emrgen/salesdb/internal/module"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// requestTime logs the duration of every request.
func requestTime(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logrus.WithFields(logrus.Fields{
			"method":    r.Method,
			"path":      r.URL.Path,
			"status":    ww.Status(),
			"requestId": middleware.GetReqID(r.Context()),
		}).Infof("request time: %v", time.Since(start))
	})
}

// principal attaches the bearer token's principal to the request. Requests
// without a token go through anonymously and are refused by the services;
// a token that does not verify is refused here.
func principal(tokens *module.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				next.ServeHTTP(w, r)
				return
			}

			p, err := tokens.PrincipalFromRequest(r)
			if err != nil {
				logrus.Warnf("unauthorized request to %s: %v", r.URL.Path, err)
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid or expired token"})
				return
			}

			next.ServeHTTP(w, r.WithContext(model.WithPrincipal(r.Context(), p)))
		})
	}
}

// requireAdmin guards routes whose services do not check roles themselves.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := model.PrincipalFrom(r.Context())
		if !ok || !p.IsAdmin() {
			writeJSON(w, http.StatusForbidden, errorBody{Error: errAdminOnly.Error(), Kind: "AccessDenied"})
			return
		}

		next.ServeHTTP(w, r)
	})
}
