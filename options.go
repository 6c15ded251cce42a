package vnvheap

import (
	"github.com/miretskiy/vnvheap/alloc"
	"github.com/miretskiy/vnvheap/policy"
)

// config holds internal configuration, immutable after New.
type config struct {
	MaxDirtyBytes int
	MaxObjects    int
	BuddyOrder    uint
	IORetries     int

	NewAllocator func(size int) alloc.Allocator
	Policy       policy.Policy

	OnPersistDone func(error)

	PersistDebugPrints       bool
	UnsafePersistDebugPrints bool
}

func defaultConfig(bufSize int) config {
	return config{
		MaxDirtyBytes: bufSize,
		MaxObjects:    256,
		BuddyOrder:    12,
		IORetries:     3,
		NewAllocator:  func(size int) alloc.Allocator { return alloc.NewFirstFit(size) },
		Policy:        policy.NewDefault(),
	}
}

// Option configures a Heap
type Option interface {
	apply(*config)
}

// funcOpt wraps a function as an Option
type funcOpt func(*config)

func (f funcOpt) apply(c *config) {
	f(c)
}

// WithMaxDirtyBytes bounds the total payload bytes that may be dirty at
// any instant. Worst-case persist latency is a static function of this
// value. Defaults to the RAM buffer size.
func WithMaxDirtyBytes(n int) Option {
	return funcOpt(func(c *config) {
		c.MaxDirtyBytes = n
	})
}

// WithMaxObjects sets the directory capacity (default: 256).
// Fixed at image creation; a mismatch reads as a config change and
// reinitializes the image.
func WithMaxObjects(n int) Option {
	return funcOpt(func(c *config) {
		c.MaxObjects = n
	})
}

// WithBuddyOrder sets the depth of the non-resident buddy allocator
// (default: 12). Deeper orders allocate smaller objects with less waste
// at the cost of a larger superblock.
func WithBuddyOrder(order uint) Option {
	return funcOpt(func(c *config) {
		c.BuddyOrder = order
	})
}

// WithIORetries sets how many times a transient storage error is retried
// before being promoted to ErrIOFatal (default: 3).
func WithIORetries(n int) Option {
	return funcOpt(func(c *config) {
		c.IORetries = n
	})
}

// WithAllocator sets the volatile allocator factory for the RAM buffer
// (default: first-fit free list). alloc.NewBuddy is the alternative.
func WithAllocator(f func(size int) alloc.Allocator) Option {
	return funcOpt(func(c *config) {
		c.NewAllocator = f
	})
}

// WithPolicy sets the object-management policy (default: policy.Default).
func WithPolicy(p policy.Policy) Option {
	return funcOpt(func(c *config) {
		c.Policy = p
	})
}

// WithPersistDone registers the completion callback fired at the end of
// every persist, successful or not. After it fires the system may safely
// cut power. The callback runs inside the persist critical section; heap
// operations invoked from it fail with ErrLocked.
func WithPersistDone(f func(error)) Option {
	return funcOpt(func(c *config) {
		c.OnPersistDone = f
	})
}

// WithPersistDebugPrints enables best-effort progress prints from the
// persist path. Preformatted bytes only, safe from a trigger context.
func WithPersistDebugPrints(enabled bool) Option {
	return funcOpt(func(c *config) {
		c.PersistDebugPrints = enabled
	})
}

// WithUnsafePersistDebugPrints routes persist prints through the logger.
// The logger allocates, so this can crash when the trigger preempts a
// heap operation. Debug builds only.
func WithUnsafePersistDebugPrints(enabled bool) Option {
	return funcOpt(func(c *config) {
		c.UnsafePersistDebugPrints = enabled
	})
}
