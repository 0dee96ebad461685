package gvm

// SetTraceLiveCode toggles recording of executed positions. Turning it on
// starts from an empty map; Load also clears it.
func (m *Machine) SetTraceLiveCode(on bool) {
	if !on {
		m.live = nil
		return
	}
	m.live = make([]bool, len(m.code))
}

// IsLive reports whether the instruction at pos has been executed since live
// tracing was enabled.
func (m *Machine) IsLive(pos int) bool {
	if m.live == nil || pos < 0 || pos >= len(m.live) {
		return false
	}
	return m.live[pos]
}

// LiveMap returns a copy of the live-code map, nil when not tracing.
func (m *Machine) LiveMap() []bool {
	if m.live == nil {
		return nil
	}
	return append([]bool(nil), m.live...)
}
