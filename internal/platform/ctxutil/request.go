package ctxutil

import "context"

type requestDataKey struct{}

// RequestData is the identity attached to a request's context after
// RequireAuth runs. Handlers read it instead of re-parsing the bearer token.
// UserID is the JWT `sub` claim verbatim — an opaque identity-provider
// subject, not a server-minted surrogate key.
type RequestData struct {
	UserID string
	Email  string
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	val := ctx.Value(requestDataKey{})
	if rd, ok := val.(*RequestData); ok {
		return rd
	}
	return nil
}
