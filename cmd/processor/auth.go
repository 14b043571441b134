package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	// AuthorizationHeader is the header key to get the authorization token
	AuthorizationHeader = "authorization"
	tokenPrefix         = "Bearer "
)

// BearerAuthenticate rejects the requests without the api key (if any).
// The root path is not authenticated (health check).
func BearerAuthenticate(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "" && r.URL.Path != "/" {
			if err := authenticate(apiKey, r.Header.Get(AuthorizationHeader)); err != nil {
				w.WriteHeader(http.StatusForbidden)
				json.NewEncoder(w).Encode(err.Error())
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func authenticate(apiKey, token string) error {
	switch {
	case apiKey == "":
		return nil // No auth required
	case token == "":
		return fmt.Errorf("token not found")
	case !strings.HasPrefix(token, tokenPrefix):
		return fmt.Errorf(`missing "` + tokenPrefix + `" prefix`)
	case strings.TrimPrefix(token, tokenPrefix) != apiKey:
		return fmt.Errorf("invalid token")
	}
	return nil
}
