package mpegts

import "sort"

const pidPAT = 0x0000

// programMap tracks which PIDs carry PMT sections.
type programMap struct {
	m map[uint16]bool
}

func newProgramMap() *programMap {
	return &programMap{m: make(map[uint16]bool)}
}

func (pm *programMap) addPMTPID(pid uint16) {
	pm.m[pid] = true
}

func (pm *programMap) isPMTPID(pid uint16) bool {
	return pm.m[pid]
}

// accumulator buffers packets for a single PID until a flush trigger: a new
// payload unit start, or a complete PSI section.
type accumulator struct {
	pid        uint16
	packets    []*Packet
	programMap *programMap
}

func newAccumulator(pid uint16, pm *programMap) *accumulator {
	return &accumulator{
		pid:        pid,
		programMap: pm,
	}
}

func (a *accumulator) add(p *Packet) []*Packet {
	// Skip packets with transport errors.
	if p.Header.TransportErrorIndicator {
		a.packets = nil
		return nil
	}

	// Skip adaptation-only packets (no payload).
	if !p.Header.HasPayload {
		return nil
	}

	// Discontinuity check: compare CC against the last buffered packet.
	// A signaled discontinuity indicator means the CC jump is expected.
	if len(a.packets) > 0 && !p.Header.DiscontinuityIndicator {
		prev := a.packets[len(a.packets)-1].Header.ContinuityCounter
		expected := (prev + 1) & 0x0F
		if p.Header.ContinuityCounter != expected {
			if p.Header.ContinuityCounter == prev {
				return nil // duplicate packet, drop
			}
			// Unsignaled discontinuity — discard buffered packets.
			a.packets = nil
		}
	}

	var flushed []*Packet

	if p.Header.PayloadUnitStartIndicator && len(a.packets) > 0 {
		flushed = a.packets
		a.packets = nil
	}

	a.packets = append(a.packets, p)

	// For PSI PIDs, check if the section is complete.
	if flushed == nil && a.isPSI() && isPSIComplete(a.packets) {
		flushed = a.packets
		a.packets = nil
	}

	return flushed
}

func (a *accumulator) isPSI() bool {
	return a.pid == pidPAT || a.programMap.isPMTPID(a.pid)
}

func (a *accumulator) flush() []*Packet {
	if len(a.packets) == 0 {
		return nil
	}
	flushed := a.packets
	a.packets = nil
	return flushed
}

// isPSIComplete checks whether the accumulated payloads contain a complete
// PSI section.
func isPSIComplete(packets []*Packet) bool {
	var payload []byte
	for _, p := range packets {
		payload = append(payload, p.Payload...)
	}
	if len(payload) < 1 {
		return false
	}

	pointerField := int(payload[0])
	offset := 1 + pointerField
	if offset >= len(payload) {
		return false
	}

	// Walk sections.
	for offset < len(payload) {
		if payload[offset] == 0xFF {
			return true // stuffing bytes, section is complete
		}
		if offset+3 > len(payload) {
			return false
		}
		// section_syntax_indicator must be 1 for PAT/PMT.
		// Zero-padding bytes will have this bit clear.
		if payload[offset+1]&0x80 == 0 {
			return true // not a valid section header, treat as padding
		}
		sectionLength := int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2])
		needed := 3 + sectionLength
		if offset+needed > len(payload) {
			return false
		}
		offset += needed
	}
	return true
}

// accumulatorSet manages per-PID accumulators.
type accumulatorSet struct {
	accs       map[uint16]*accumulator
	programMap *programMap
}

func newAccumulatorSet(pm *programMap) *accumulatorSet {
	return &accumulatorSet{
		accs:       make(map[uint16]*accumulator),
		programMap: pm,
	}
}

func (s *accumulatorSet) add(p *Packet) []*Packet {
	pid := p.Header.PID
	acc, ok := s.accs[pid]
	if !ok {
		acc = newAccumulator(pid, s.programMap)
		s.accs[pid] = acc
	}
	return acc.add(p)
}

func (s *accumulatorSet) dump() [][]*Packet {
	// Sort by PID so PAT (PID 0) is processed before PMT PIDs.
	pids := make([]int, 0, len(s.accs))
	for pid := range s.accs {
		pids = append(pids, int(pid))
	}
	sort.Ints(pids)

	var all [][]*Packet
	for _, pid := range pids {
		if packets := s.accs[uint16(pid)].flush(); packets != nil {
			all = append(all, packets)
		}
	}
	return all
}
