package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/dedupe/internal/service"
)

// WithRequestMetadata adds the client IP and User-Agent recorded in the audit log.
// r.RemoteAddr has already been normalized by TrustedRealIP.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ctx = service.ContextWithIPAddress(ctx, r.RemoteAddr)
	return service.ContextWithUserAgent(ctx, r.UserAgent())
}
