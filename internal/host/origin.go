package host

import "context"

// Origin tags who caused a host mutation
type Origin int

const (
	// OriginLocal is a user or integration edit on the host
	OriginLocal Origin = iota
	// OriginPull is a write performed while applying remote changes
	OriginPull
)

type originKey struct{}

// WithOrigin marks writes made under ctx with the given origin
func WithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

// OriginFrom returns the origin carried by ctx, OriginLocal when unset
func OriginFrom(ctx context.Context) Origin {
	if o, ok := ctx.Value(originKey{}).(Origin); ok {
		return o
	}
	return OriginLocal
}

// IsPull reports whether ctx carries the pull-origin marker
func IsPull(ctx context.Context) bool {
	return OriginFrom(ctx) == OriginPull
}

// Change describes one mutation observed on the host
type Change struct {
	Model  string
	ID     int64
	Event  string // create or update
	Fields []string
	Values Values
}

// Observer receives host mutations, the way an Odoo create/write override would
type Observer interface {
	HostChanged(ctx context.Context, c Change)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(ctx context.Context, c Change)

// HostChanged calls f
func (f ObserverFunc) HostChanged(ctx context.Context, c Change) {
	f(ctx, c)
}
