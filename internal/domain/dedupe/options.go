package dedupe

// Option applies a configuration option to the pending set.
type Option func(*inMemoryPending)

// WithMaxSize caps how many ids are tracked. Zero or negative means
// unbounded.
func WithMaxSize(maxSize int) Option {
	return func(p *inMemoryPending) {
		p.maxSize = maxSize
	}
}
