package dedupe

// Option applies a configuration option to the deduper.
type Option func(*ringDeduper)

// WithMaxSize bounds how many keys are remembered. Values <= 0 remember
// every key.
func WithMaxSize(maxSize int) Option {
	return func(d *ringDeduper) {
		d.maxSize = maxSize
	}
}
