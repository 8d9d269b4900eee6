// ABOUTME: Context helpers tagging a request with the transport it arrived on
// ABOUTME: Used for metrics labels and log attributes

package relay

import "context"

type transportKey struct{}

// WithTransport returns a context tagged with the transport name.
func WithTransport(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, transportKey{}, name)
}

// TransportFrom returns the transport name, or "unknown".
func TransportFrom(ctx context.Context) string {
	if name, ok := ctx.Value(transportKey{}).(string); ok && name != "" {
		return name
	}
	return defaultTransportTag
}
