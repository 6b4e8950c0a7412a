package h9

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// MaxBuildInfoLen bounds the build descriptor.
const MaxBuildInfoLen = 32

// Identity holds the static attributes a node reports about itself.
type Identity struct {
	NodeType         uint16
	HardwareRevision byte
	VersionMajor     uint16
	VersionMinor     uint16
	BuildInfo        string
	MCUType          uint8
	ResetReason      ResetReason
}

// AddressStore persists the node address across restarts.
type AddressStore interface {
	// LoadAddress returns the stored address; ok is false when nothing was stored.
	LoadAddress() (addr uint16, ok bool, err error)
	StoreAddress(addr uint16) error
}

// MemoryStore is an AddressStore kept in memory.
type MemoryStore struct {
	mu   sync.Mutex
	addr uint16
	set  bool
}

// NewMemoryStore returns a store preloaded with addr; zero means empty.
func NewMemoryStore(addr uint16) *MemoryStore {
	return &MemoryStore{addr: addr, set: addr != UnsetAddress}
}

func (s *MemoryStore) LoadAddress() (uint16, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr, s.set, nil
}

func (s *MemoryStore) StoreAddress(addr uint16) error {
	s.mu.Lock()
	s.addr, s.set = addr, true
	s.mu.Unlock()
	return nil
}

// ValidAddress reports whether a is an assignable node address (1..0x1FE).
func ValidAddress(a uint16) bool {
	return a >= 1 && a <= MaxNodeAddress
}

// Node is the node context: identity, current address and the interrupt
// gate shared by the polling context and transport events. The address is
// the only mutable field and changes only through SetAddress.
type Node struct {
	id    Identity
	store AddressStore
	addr  atomic.Uint32
	irq   IRQ
}

// NewNode builds the node context and loads the persisted address. A missing
// or out-of-range stored address leaves the node unconfigured (address 0).
func NewNode(id Identity, store AddressStore) (*Node, error) {
	if len(id.BuildInfo) > MaxBuildInfoLen {
		id.BuildInfo = id.BuildInfo[:MaxBuildInfoLen]
	}
	if store == nil {
		store = NewMemoryStore(UnsetAddress)
	}
	n := &Node{id: id, store: store}
	addr, ok, err := store.LoadAddress()
	if err != nil {
		return nil, fmt.Errorf("h9: load node address: %w", err)
	}
	if ok && ValidAddress(addr) {
		n.addr.Store(uint32(addr))
	}
	return n, nil
}

// Identity returns the static identity.
func (n *Node) Identity() Identity { return n.id }

// Address returns the current node address; 0 means unconfigured.
func (n *Node) Address() uint16 { return uint16(n.addr.Load()) }

// IRQ returns the node's interrupt gate.
func (n *Node) IRQ() *IRQ { return &n.irq }

// SetAddress persists and publishes a new address with event delivery
// suspended, so no transport event observes the old and new address mixed.
// It must not be called from event context.
func (n *Node) SetAddress(addr uint16) error {
	if !ValidAddress(addr) {
		return fmt.Errorf("%w: 0x%03X", ErrInvalidAddress, addr)
	}
	g := n.irq.Disable()
	defer g.Restore()
	if err := n.store.StoreAddress(addr); err != nil {
		return fmt.Errorf("h9: store node address: %w", err)
	}
	n.addr.Store(uint32(addr))
	return nil
}
