package mpegts

import "sort"

// PIDPAT is the well-known PID carrying the Program Association Table.
const PIDPAT = 0x0000

type pidRole uint8

const (
	roleNone pidRole = iota
	rolePAT
	rolePMT
	roleElementary
)

// routingTable is the per-session PID routing state. PMT PIDs come from the
// latest PAT; tracked elementary PIDs come from the latest PMT of each
// program. Later tables replace earlier ones.
type routingTable struct {
	supported map[StreamType]bool

	// pmtPIDs maps PMT PID to program number.
	pmtPIDs map[uint16]uint16
	// programs maps program number to the elementary PIDs it tracks.
	programs map[uint16][]uint16
	// streams maps every PID declared in a PMT to its stream type.
	streams map[uint16]StreamType
	tracked map[uint16]bool
}

func newRoutingTable(types []StreamType) *routingTable {
	rt := &routingTable{
		supported: make(map[StreamType]bool, len(types)),
		pmtPIDs:   make(map[uint16]uint16),
		programs:  make(map[uint16][]uint16),
		streams:   make(map[uint16]StreamType),
		tracked:   make(map[uint16]bool),
	}
	for _, t := range types {
		rt.supported[t] = true
	}
	return rt
}

func (rt *routingTable) role(pid uint16) pidRole {
	switch {
	case pid == PIDPAT:
		return rolePAT
	case rt.isPMT(pid):
		return rolePMT
	case rt.tracked[pid]:
		return roleElementary
	}
	return roleNone
}

func (rt *routingTable) isPMT(pid uint16) bool {
	_, ok := rt.pmtPIDs[pid]
	return ok
}

func (rt *routingTable) streamType(pid uint16) StreamType {
	if st, ok := rt.streams[pid]; ok && st.Known() {
		return st
	}
	return StreamTypeUnknown
}

// applyPAT replaces the PMT PID set. Programs that disappeared lose their
// elementary streams; the returned PIDs are no longer tracked.
func (rt *routingTable) applyPAT(pat *PATData) ([]uint16, error) {
	if len(pat.Programs) == 0 {
		return nil, ErrNoPrograms
	}

	next := make(map[uint16]uint16, len(pat.Programs))
	listed := make(map[uint16]bool, len(pat.Programs))
	for _, p := range pat.Programs {
		next[p.ProgramMapID] = p.ProgramNumber
		listed[p.ProgramNumber] = true
	}
	rt.pmtPIDs = next

	var stale []uint16
	for number, pids := range rt.programs {
		if listed[number] {
			continue
		}
		stale = append(stale, pids...)
		delete(rt.programs, number)
	}
	removed := rt.untrack(stale)
	sortPIDs(removed)
	return removed, nil
}

// applyPMT replaces the elementary streams of one program. It returns the
// PIDs that stopped being tracked.
func (rt *routingTable) applyPMT(pmt *PMTData) []uint16 {
	prev := rt.programs[pmt.ProgramNumber]

	var pids []uint16
	keep := make(map[uint16]bool, len(pmt.ElementaryStreams))
	for _, es := range pmt.ElementaryStreams {
		rt.streams[es.ElementaryPID] = es.StreamType
		if !rt.supported[es.StreamType] {
			continue
		}
		pids = append(pids, es.ElementaryPID)
		keep[es.ElementaryPID] = true
	}

	rt.programs[pmt.ProgramNumber] = pids
	for _, pid := range pids {
		rt.tracked[pid] = true
	}

	var stale []uint16
	for _, pid := range prev {
		if !keep[pid] {
			stale = append(stale, pid)
		}
	}
	removed := rt.untrack(stale)

	sortPIDs(removed)
	return removed
}

// untrack stops tracking pids that no remaining program declares.
func (rt *routingTable) untrack(pids []uint16) []uint16 {
	removed := make([]uint16, 0, len(pids))
	for _, pid := range pids {
		if !rt.tracked[pid] || rt.declared(pid) {
			continue
		}
		delete(rt.tracked, pid)
		delete(rt.streams, pid)
		removed = append(removed, pid)
	}
	return removed
}

func (rt *routingTable) declared(pid uint16) bool {
	for _, pids := range rt.programs {
		for _, p := range pids {
			if p == pid {
				return true
			}
		}
	}
	return false
}

func sortPIDs(pids []uint16) {
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
}
