package wasm

import "fmt"

// Owned is a single use handle over bytes that crossed the module boundary.
// Its contents can be taken exactly once through Consume, after which the handle is spent.
type Owned struct {
	buffer   Buffer
	release  func() error
	consumed bool
}

// Adopt wraps a buffer whose memory stays under the host's management: the host placed it
// through alloc and will dealloc it once the call returns.
func Adopt(buffer Buffer) *Owned {
	return &Owned{buffer: buffer}
}

// Take wraps a buffer the guest now owns. Consuming it returns the block to the allocator.
func Take(allocator *Allocator, buffer Buffer) *Owned {
	return &Owned{
		buffer: buffer,
		release: func() error {
			return allocator.Deallocate(buffer.Address(), buffer.Length())
		},
	}
}

// OwnedBytes wraps bytes that are already in Go memory. It is used by hosts that do not
// go through linear memory, such as the in process host used by tests.
func OwnedBytes(data []byte) *Owned {
	return &Owned{buffer: FromSlice(data)}
}

func (owned *Owned) Len() uint32 {
	return owned.buffer.Length()
}

// Consume copies the bytes out and releases the handle.
func (owned *Owned) Consume() ([]byte, error) {
	if owned.consumed {
		return nil, fmt.Errorf("consume(%#x, %d): %w", owned.buffer.Address(), owned.buffer.Length(), ErrConsumed)
	}
	owned.consumed = true

	data := owned.buffer.Slice()
	if owned.release != nil {
		if err := owned.release(); err != nil {
			return nil, err
		}
	}
	return data, nil
}
