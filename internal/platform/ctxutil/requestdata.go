package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type requestDataKey struct{}

// RequestData carries the trusted identity an auth middleware attaches to
// an inbound request's context, adapted from the teacher's
// internal/requestdata.RequestData but trimmed to the fields this service
// actually needs: no session/refresh-token bookkeeping, since the core
// only ever receives an already-validated bearer token.
type RequestData struct {
	UserID uuid.UUID
	Role   string
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
