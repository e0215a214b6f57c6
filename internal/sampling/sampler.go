package sampling

import "context"

// Sampler reads one point-in-time view of every GPU. Implementations
// acquire and release driver resources within a single Sample call.
type Sampler interface {
	Sample(ctx context.Context) (Snapshot, error)
	Close() error
	Name() string
}

// None is a Sampler for hosts without a GPU backend.
type None struct{}

func (None) Sample(context.Context) (Snapshot, error) { return Snapshot{}, nil }
func (None) Close() error                             { return nil }
func (None) Name() string                             { return "none" }
