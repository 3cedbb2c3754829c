// ABOUTME: Opus codec factory with a reusable instance pool
// ABOUTME: Answers capability queries and hands out instances from a free list
package opuscodec

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/audiobridge/opuscodec/pkg/codec"
)

// supportedClockRates are the sampling rates the engine accepts.
var supportedClockRates = []int{8000, 12000, 16000, 24000, 48000}

// FactoryConfig configures a Factory.
type FactoryConfig struct {
	// MaxInstances caps the number of instance slots the factory will
	// ever construct, matching bounded embedded deployments. Zero
	// means unbounded.
	MaxInstances int
}

// Factory owns the pool of Opus codec instances. Instances are
// constructed lazily, handed out by Alloc, and recycled through a free
// list by Dealloc; a slot is never released back to the runtime while
// the factory lives.
//
// The free list and the slot construction path are the only shared
// mutable state; they are guarded by a single mutex that is never held
// across engine calls.
type Factory struct {
	cfg FactoryConfig

	mu      sync.Mutex
	free    []*Instance // LIFO: most recently freed is reused first
	created int
	closed  bool
}

// NewFactory creates a codec factory.
func NewFactory(cfg FactoryConfig) *Factory {
	return &Factory{cfg: cfg}
}

// Supports reports whether this factory can handle the described
// stream. A false answer is a negative capability answer, not an error.
func (f *Factory) Supports(desc codec.StreamDescriptor) bool {
	if desc.Kind != codec.MediaAudio {
		return false
	}
	if !strings.EqualFold(desc.Name, CodecName) {
		return false
	}
	for _, rate := range supportedClockRates {
		if desc.ClockRate == rate {
			return true
		}
	}
	return false
}

// DefaultParams produces the default parameter set for the described
// stream, including the derived decoder-side fmtp list.
func (f *Factory) DefaultParams(desc codec.StreamDescriptor) *codec.ParameterSet {
	return DefaultParams(desc)
}

// Enumerate lists the codec identities this factory advertises,
// truncated to max. Opus is advertised once, at 48 kHz mono.
func (f *Factory) Enumerate(max int) ([]codec.StreamDescriptor, error) {
	if max < 1 {
		return nil, fmt.Errorf("%w: enumerate needs room for at least one descriptor", codec.ErrInvalidArg)
	}
	return []codec.StreamDescriptor{{
		Kind:        codec.MediaAudio,
		Name:        CodecName,
		ClockRate:   48000,
		Channels:    1,
		PayloadType: DefaultPayloadType,
	}}, nil
}

// Alloc hands out a codec instance, reusing a free slot when one is
// available. The returned instance is exclusively owned by the caller
// until Dealloc. Fails with ErrNoMemory once the instance cap is
// reached and with ErrInvalidOp after Close.
func (f *Factory) Alloc() (*Instance, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: factory is closed", codec.ErrInvalidOp)
	}

	var inst *Instance
	if n := len(f.free); n > 0 {
		inst = f.free[n-1]
		f.free = f.free[:n-1]
		inst.pooled = false
	} else {
		if f.cfg.MaxInstances > 0 && f.created >= f.cfg.MaxInstances {
			f.mu.Unlock()
			return nil, fmt.Errorf("%w: instance cap of %d reached", codec.ErrNoMemory, f.cfg.MaxInstances)
		}
		inst = &Instance{id: uuid.New()}
		f.created++
	}
	f.mu.Unlock()

	inst.encReady = false
	inst.decReady = false
	inst.scratch = make([]int16, maxScratchSamples)
	return inst, nil
}

// Dealloc reclaims an instance, force-closing it if it is still open,
// and pushes its slot to the front of the free list so the most
// recently freed slot is reused first. Deallocating a slot that is
// already on the free list is a caller bug and fails with ErrInvalidOp
// without disturbing the slot.
func (f *Factory) Dealloc(inst *Instance) error {
	if inst == nil {
		return fmt.Errorf("%w: nil instance", codec.ErrInvalidArg)
	}

	f.mu.Lock()
	if inst.pooled {
		f.mu.Unlock()
		return fmt.Errorf("%w: instance %s already deallocated", codec.ErrInvalidOp, inst.id)
	}
	inst.pooled = true
	f.mu.Unlock()

	if inst.encReady || inst.decReady {
		inst.Close()
	}
	inst.scratch = nil

	f.mu.Lock()
	if !f.closed {
		f.free = append(f.free, inst)
	}
	f.mu.Unlock()
	return nil
}

// Close shuts the factory down: the free list is dropped and further
// Alloc calls fail. Instances still held by callers stay usable until
// deallocated.
func (f *Factory) Close() error {
	f.mu.Lock()
	f.free = nil
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Stats reports how many instance slots have been constructed and how
// many are currently free.
func (f *Factory) Stats() (created, free int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created, len(f.free)
}
