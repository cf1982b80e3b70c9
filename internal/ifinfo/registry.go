// Package ifinfo keeps the last known state of every network interface the
// daemon has seen, keyed by kernel interface index.
package ifinfo

import (
	"net"
	"sort"
	"sync"
	"unicode/utf8"
)

const (
	// MaxNameLen is IFNAMSIZ without the terminating NUL.
	MaxNameLen = 15
	// MaxAddrLen is the kernel's MAX_ADDR_LEN.
	MaxAddrLen = 32
)

// Interface is the stored state of one interface.
type Interface struct {
	Index int32  `json:"index"`
	Name  string `json:"name"`
	Type  uint16 `json:"type"`
	Flags uint32 `json:"flags"`

	// HWAddr holds at most MaxAddrLen bytes.
	HWAddr net.HardwareAddr `json:"hwAddr,omitempty"`
	// HWAddrLen is the address length as reported, before truncation.
	HWAddrLen int `json:"hwAddrLen"`
	// NameTruncated is set when the reported name exceeded MaxNameLen.
	NameTruncated bool `json:"nameTruncated,omitempty"`
}

// Registry maps interface indexes to their stored state. Records are never
// removed. Writes are expected from a single goroutine; the lock exists so
// Snapshot can be served concurrently.
type Registry struct {
	mu      sync.RWMutex
	byIndex map[int32]*Interface
}

func NewRegistry() *Registry {
	return &Registry{
		byIndex: make(map[int32]*Interface),
	}
}

// Get returns the record for index without creating one.
func (r *Registry) Get(index int32) (*Interface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byIndex[index]
	return i, ok
}

// GetOrCreate returns the record for index, inserting a zero record on miss.
func (r *Registry) GetOrCreate(index int32) *Interface {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.byIndex[index]; ok {
		return i
	}
	i := &Interface{Index: index}
	r.byIndex[index] = i
	return i
}

// Update overwrites the mutable fields of i. It does not compare old and
// new flags; callers must do that beforehand.
func (r *Registry) Update(i *Interface, linkType uint16, flags uint32, hwAddr []byte, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i.Type = linkType
	i.Flags = flags

	i.HWAddrLen = len(hwAddr)
	n := len(hwAddr)
	if n > MaxAddrLen {
		n = MaxAddrLen
	}
	if n == 0 {
		i.HWAddr = nil
	} else {
		i.HWAddr = append(i.HWAddr[:0], hwAddr[:n]...)
	}

	i.Name, i.NameTruncated = boundedName(name)
}

// Len returns the number of known interfaces.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIndex)
}

// Snapshot returns copies of all records ordered by index.
func (r *Registry) Snapshot() []Interface {
	r.mu.RLock()
	out := make([]Interface, 0, len(r.byIndex))
	for _, i := range r.byIndex {
		c := *i
		c.HWAddr = append(net.HardwareAddr(nil), i.HWAddr...)
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool { return out[a].Index < out[b].Index })
	return out
}

// boundedName cuts name to at most MaxNameLen bytes without splitting a
// UTF-8 sequence.
func boundedName(name string) (string, bool) {
	if len(name) <= MaxNameLen {
		return name, false
	}
	n := MaxNameLen
	for n > 0 && !utf8.RuneStart(name[n]) {
		n--
	}
	return name[:n], true
}
