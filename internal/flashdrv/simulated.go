//go:build !tinygo

package flashdrv

// Simulated backs the Flash interface with an in-memory byte arena so the
// session state machine, boot record store, and their tests can run on a
// development machine without real hardware. It enforces the
// erase-before-program invariant strictly: a Program call touching any
// byte that is not in the erased state returns ErrNotErased instead of
// silently clobbering it, so a design bug that skips an erase surfaces as
// a test failure rather than a flash image that happens to look right.
type Simulated struct {
	base       uint32
	mem        []byte
	erased     []bool
	sectorSize uint32
}

// NewSimulated allocates a simulated flash region of size bytes starting
// at base, with the given erase granularity. The region starts fully
// un-erased, matching real flash the first time it is powered on.
func NewSimulated(base uint32, size uint32, sectorSize uint32) *Simulated {
	return &Simulated{
		base:       base,
		mem:        make([]byte, size),
		erased:     make([]bool, size),
		sectorSize: sectorSize,
	}
}

func (s *Simulated) SectorSize() uint32 {
	return s.sectorSize
}

func (s *Simulated) EraseSectors(base uint32, length uint32) error {
	if base%s.sectorSize != 0 || length%s.sectorSize != 0 {
		return ErrMisaligned
	}
	off, err := s.offset(base)
	if err != nil {
		return err
	}
	if off+length > uint32(len(s.mem)) {
		return ErrMisaligned
	}
	for i := off; i < off+length; i++ {
		s.mem[i] = 0xFF
		s.erased[i] = true
	}
	return nil
}

func (s *Simulated) Program(addr uint32, data []byte) error {
	if addr%4 != 0 {
		return ErrMisaligned
	}
	padded := PadToWord(data)
	off, err := s.offset(addr)
	if err != nil {
		return err
	}
	if off+uint32(len(padded)) > uint32(len(s.mem)) {
		return ErrMisaligned
	}
	for i, b := range padded {
		idx := off + uint32(i)
		if !s.erased[idx] {
			return ErrNotErased
		}
		s.mem[idx] = b
		s.erased[idx] = false
	}
	return nil
}

// Read returns a copy of the bytes at [addr, addr+length), regardless of
// erase state, for test assertions.
func (s *Simulated) Read(addr uint32, length uint32) ([]byte, error) {
	off, err := s.offset(addr)
	if err != nil {
		return nil, err
	}
	if off+length > uint32(len(s.mem)) {
		return nil, ErrMisaligned
	}
	out := make([]byte, length)
	copy(out, s.mem[off:off+length])
	return out, nil
}

func (s *Simulated) offset(addr uint32) (uint32, error) {
	if addr < s.base {
		return 0, ErrMisaligned
	}
	return addr - s.base, nil
}
