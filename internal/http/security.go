package http

import (
	"context"
	"net/http"
	"strings"

	applog "budgetwatch/internal/log"
)

// HeaderUserID carries the caller identity resolved by the upstream auth layer.
const HeaderUserID = "X-User-ID"

const maxOwnerIDLen = 128

type ownerKey struct{}

// ownerFrom returns the authenticated owner placed on the context by requireOwner.
func ownerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

// requireOwner rejects requests without a usable X-User-ID with 401.
func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if !validOwnerID(owner) {
			UnauthorizedError("missing or invalid " + HeaderUserID + " header").Write(w)
			return
		}
		ctx := context.WithValue(r.Context(), ownerKey{}, owner)
		ctx = applog.WithOwner(ctx, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validOwnerID(owner string) bool {
	if owner == "" || len(owner) > maxOwnerIDLen {
		return false
	}
	for _, c := range owner {
		if c < 0x20 || c == 0x7f {
			return false
		}
	}
	return true
}
