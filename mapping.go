package delaycam

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/zhangyunhao116/skipmap"
)

// MappedBuffer is a read-only view of a device-owned buffer. The plane bytes
// are borrowed: they belong to the device and are valid only between
// Registry.Map and the Registry.Clear that ends the configuration. Writing
// to them faults.
type MappedBuffer struct {
	id     uint64
	planes [][]byte
	maps   [][]byte // distinct mappings backing planes
}

// ID is the hardware buffer id.
func (b *MappedBuffer) ID() uint64 { return b.id }

func (b *MappedBuffer) NumPlanes() int { return len(b.planes) }

// Plane returns the i-th plane view, or nil if i is out of range.
func (b *MappedBuffer) Plane(i int) []byte {
	if i < 0 || i >= len(b.planes) {
		return nil
	}
	return b.planes[i]
}

// Registry keeps the process mapping of every buffer the device currently
// owns, keyed by buffer id. Lookups are lock-free; Map and Clear happen only
// at configuration boundaries.
type Registry struct {
	buffers *skipmap.Uint64Map[*MappedBuffer]
	log     *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(l *slog.Logger) *Registry {
	return &Registry{
		buffers: skipmap.NewUint64[*MappedBuffer](),
		log:     componentLogger(l, "registry"),
	}
}

// Map maps every plane of hw read-only and records the view. Planes sharing
// a descriptor share one mapping covering all of them.
func (r *Registry) Map(hw HardwareBuffer) (*MappedBuffer, error) {
	if _, ok := r.buffers.Load(hw.ID); ok {
		return nil, fmt.Errorf("buffer %d already mapped", hw.ID)
	}
	if len(hw.Planes) == 0 {
		return nil, fmt.Errorf("buffer %d has no planes", hw.ID)
	}

	// Size one mapping per descriptor to cover every plane it holds
	extents := make(map[int]int64, len(hw.Planes))
	order := make([]int, 0, len(hw.Planes))
	for i, p := range hw.Planes {
		if p.Offset < 0 || p.Length < 0 {
			return nil, fmt.Errorf("buffer %d plane %d: invalid range [%d,+%d)", hw.ID, i, p.Offset, p.Length)
		}
		end := p.Offset + int64(p.Length)
		if cur, ok := extents[p.FD]; !ok {
			extents[p.FD] = end
			order = append(order, p.FD)
		} else if end > cur {
			extents[p.FD] = end
		}
	}

	mb := &MappedBuffer{
		id:     hw.ID,
		planes: make([][]byte, len(hw.Planes)),
	}
	views := make(map[int][]byte, len(order))
	for _, fd := range order {
		data, err := mapReadOnly(fd, extents[fd])
		if err != nil {
			unmapAll(mb.maps)
			return nil, fmt.Errorf("map buffer %d fd %d: %w", hw.ID, fd, err)
		}
		views[fd] = data
		if data != nil {
			mb.maps = append(mb.maps, data)
		}
	}
	for i, p := range hw.Planes {
		data := views[p.FD]
		mb.planes[i] = data[p.Offset : p.Offset+int64(p.Length) : p.Offset+int64(p.Length)]
	}

	r.buffers.Store(hw.ID, mb)
	return mb, nil
}

// Lookup returns the mapping for a buffer id.
func (r *Registry) Lookup(id uint64) (*MappedBuffer, bool) {
	return r.buffers.Load(id)
}

// Len is the number of mapped buffers.
func (r *Registry) Len() int {
	return r.buffers.Len()
}

// Unmap releases one buffer's mapping.
func (r *Registry) Unmap(id uint64) error {
	mb, ok := r.buffers.LoadAndDelete(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrBufferNotMapped, id)
	}
	return unmapAll(mb.maps)
}

// Clear releases every mapping. Views handed out earlier become invalid.
func (r *Registry) Clear() error {
	var ids []uint64
	r.buffers.Range(func(id uint64, _ *MappedBuffer) bool {
		ids = append(ids, id)
		return true
	})

	var errs []error
	for _, id := range ids {
		if err := r.Unmap(id); err != nil {
			errs = append(errs, err)
		}
	}
	if len(ids) > 0 {
		r.log.Debug("released buffer mappings", "count", len(ids))
	}
	return errors.Join(errs...)
}

func unmapAll(maps [][]byte) error {
	var errs []error
	for _, m := range maps {
		if err := unmapView(m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
