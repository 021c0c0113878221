package sessioninfo

import (
	"context"

	"pkt.systems/crmdesk/schema"
)

// Info identifies the authenticated session a request belongs to.
type Info struct {
	UserID    schema.UserID
	SessionID schema.SessionID
	RequestID string
}

type infoKey struct{}

// WithContext stores info in the context.
func WithContext(ctx context.Context, info *Info) context.Context {
	if ctx == nil || info == nil {
		return ctx
	}
	return context.WithValue(ctx, infoKey{}, info)
}

// FromContext returns the info stored in the context, if any.
func FromContext(ctx context.Context) *Info {
	if ctx == nil {
		return nil
	}
	if value := ctx.Value(infoKey{}); value != nil {
		if info, ok := value.(*Info); ok {
			return info
		}
	}
	return nil
}

// RequestID returns the request id stored in the context, if any.
func RequestID(ctx context.Context) string {
	if info := FromContext(ctx); info != nil {
		return info.RequestID
	}
	return ""
}
