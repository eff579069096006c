package syncx

import "context"

// Origin tags where the operation currently flowing through the CMS
// came from. It is carried in the request context and scoped to one
// in-flight apply, so concurrent applies cannot mask each other the way
// process-wide flags would.
type Origin string

const (
	// OriginLocal is the default: an edit made on this deployment.
	OriginLocal Origin = "local"
	// OriginMaster marks an apply of a master broadcast (set on replicas).
	OriginMaster Origin = "master"
	// OriginShip marks an apply of a replica push (set on the master).
	OriginShip Origin = "ship"
)

type originKey struct{}

// WithOrigin returns a context tagged with the operation's origin.
// The bus consumer sets this around every apply; the lifecycle
// interceptor reads it to suppress re-propagation.
func WithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

// OriginOf returns the context's origin, defaulting to OriginLocal.
func OriginOf(ctx context.Context) Origin {
	if o, ok := ctx.Value(originKey{}).(Origin); ok {
		return o
	}
	return OriginLocal
}

// IsRemote reports whether the current operation was initiated by a
// peer rather than locally.
func IsRemote(ctx context.Context) bool {
	return OriginOf(ctx) != OriginLocal
}
