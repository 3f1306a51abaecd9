package engine

// decommit zeroes the linear memory and, where the platform supports it,
// returns the physical pages to the OS.
func (m *Memory) decommit() {
	size := m.mem.Size()
	if size == 0 {
		return
	}
	buf, ok := m.mem.Read(0, size)
	if !ok {
		return
	}
	if decommitBuffer(buf) {
		return
	}
	for i := range buf {
		buf[i] = 0
	}
}
