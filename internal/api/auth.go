package api

import (
	"net/http"
	"strings"

	"routetrace/internal/auth"
)

// getPrincipal identifies the caller from the Authorization header. In auth
// mode none every caller is an anonymous admin.
func (s *Server) getPrincipal(r *http.Request) (auth.Principal, error) {
	authz := r.Header.Get("Authorization")
	tok := ""
	if len(authz) > len("Bearer ") && strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
		tok = strings.TrimSpace(authz[len("Bearer "):])
	}
	return s.Auth.Verify(tok)
}

// principalOr401 writes a problem response and reports false when the caller
// cannot be identified.
func (s *Server) principalOr401(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, err := s.getPrincipal(r)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="routetrace"`)
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), r.URL.Path)
		return auth.Principal{}, false
	}
	return p, true
}

func canSee(p auth.Principal, owner string) bool {
	return p.IsAdmin() || owner == p.Subject
}
