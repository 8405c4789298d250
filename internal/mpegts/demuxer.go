package mpegts

import (
	"fmt"
	"log/slog"
)

// Stats counts what a Demuxer has done with the packets fed to it.
type Stats struct {
	Packets         int64
	PESPackets      int64
	TablesParsed    int64
	ParseErrors     int64
	Gaps            int64
	Ignored         int64
	Duplicates      int64
	Discontinuities int64
}

// Demuxer is the push side of transport stream demultiplexing for one
// session. It learns PID routing from PAT and PMT sections and reassembles
// PES packets on tracked PIDs. A Demuxer is not safe for concurrent use;
// independent sessions use independent Demuxers.
type Demuxer struct {
	log     *slog.Logger
	routing *routingTable
	pes     *reassembler
	psi     map[uint16][]byte
	stats   Stats

	streamTypes []StreamType
	maxBuffer   int
	strict      bool
}

// NewDemuxer creates a Demuxer with empty routing state.
func NewDemuxer(opts ...func(*Demuxer)) *Demuxer {
	d := &Demuxer{
		log:         slog.Default(),
		psi:         make(map[uint16][]byte),
		streamTypes: DefaultStreamTypes,
		maxBuffer:   DefaultMaxBufferSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With("component", "mpegts")
	d.routing = newRoutingTable(d.streamTypes)
	d.pes = newReassembler(d.maxBuffer, d.strict)
	return d
}

// DemuxerOptLogger sets the logger. Nil keeps slog.Default().
func DemuxerOptLogger(log *slog.Logger) func(*Demuxer) {
	return func(d *Demuxer) {
		if log != nil {
			d.log = log
		}
	}
}

// DemuxerOptStreamTypes sets which PMT stream types are reassembled
// (default DefaultStreamTypes).
func DemuxerOptStreamTypes(types ...StreamType) func(*Demuxer) {
	return func(d *Demuxer) {
		d.streamTypes = types
	}
}

// DemuxerOptMaxBufferSize sets the per-PID reassembly limit in bytes
// (default DefaultMaxBufferSize).
func DemuxerOptMaxBufferSize(n int) func(*Demuxer) {
	return func(d *Demuxer) {
		d.maxBuffer = n
	}
}

// DemuxerOptStrictContinuity enables continuity counter checking: duplicate
// packets are dropped, and a counter jump or transport error discards the
// PES packet being reassembled.
func DemuxerOptStrictContinuity() func(*Demuxer) {
	return func(d *Demuxer) {
		d.strict = true
	}
}

// Feed processes one transport packet and returns the PES packet it
// completed, if any. The only error returned is ErrBufferOverflow, after
// which the session should be abandoned. Malformed tables are logged,
// counted and skipped.
func (d *Demuxer) Feed(p *Packet) (*PESPacket, error) {
	d.stats.Packets++
	pid := p.Header.PID

	switch d.routing.role(pid) {
	case rolePAT, rolePMT:
		d.feedPSI(p)
		return nil, nil

	case roleElementary:
		pes, res, err := d.pes.add(p, d.routing.streamType(pid))
		if err != nil {
			return nil, err
		}
		switch res {
		case feedGap:
			d.stats.Gaps++
		case feedDuplicate:
			d.stats.Duplicates++
		case feedDiscontinuity:
			d.stats.Discontinuities++
			d.log.Debug("continuity error, PES dropped", "pid", pid, "cc", p.Header.ContinuityCounter)
		}
		if pes != nil {
			d.stats.PESPackets++
		}
		return pes, nil
	}

	d.stats.Ignored++
	return nil, nil
}

// Close finalizes every PES packet still being reassembled, in PID order.
// Without Close, trailing partial packets are never emitted.
func (d *Demuxer) Close() []*PESPacket {
	flushed := d.pes.flush()
	d.stats.PESPackets += int64(len(flushed))
	return flushed
}

// Stats returns a copy of the demuxer counters.
func (d *Demuxer) Stats() Stats {
	return d.stats
}

// Tracked reports whether PES packets on pid are being reassembled.
func (d *Demuxer) Tracked(pid uint16) bool {
	return d.routing.role(pid) == roleElementary
}

// StreamType returns the stream type a PMT declared for pid, or
// StreamTypeUnknown.
func (d *Demuxer) StreamType(pid uint16) StreamType {
	return d.routing.streamType(pid)
}

func (d *Demuxer) feedPSI(p *Packet) {
	pid := p.Header.PID
	if !p.Header.HasPayload || len(p.Payload) == 0 {
		return
	}

	// A section must begin on a payload unit start; continuation packets
	// only extend a section already in progress.
	buf, open := d.psi[pid]
	switch {
	case p.Header.PayloadUnitStartIndicator:
		buf = append(buf[:0], p.Payload...)
	case open:
		buf = append(buf, p.Payload...)
	default:
		d.stats.Gaps++
		return
	}

	if len(buf) > maxSectionBuffer {
		delete(d.psi, pid)
		d.parseFailed(pid, "PSI", fmt.Errorf("section exceeds %d bytes", maxSectionBuffer))
		return
	}
	if !isPSIComplete(buf) {
		d.psi[pid] = buf
		return
	}
	delete(d.psi, pid)

	tables, err := parsePSI(buf)
	if err != nil {
		table := "PMT"
		if pid == PIDPAT {
			table = "PAT"
		}
		d.parseFailed(pid, table, err)
		return
	}

	// PATs count only on PID 0 and PMTs only on a PMT PID the PAT declared
	// for that program.
	for _, pat := range tables.pats {
		if pid != PIDPAT {
			d.parseFailed(pid, "PAT", errMisplacedTable)
			continue
		}
		removed, err := d.routing.applyPAT(pat)
		if err != nil {
			d.parseFailed(pid, "PAT", err)
			continue
		}
		d.stats.TablesParsed++
		d.dropStreams(removed)
		for psiPID := range d.psi {
			if psiPID != PIDPAT && !d.routing.isPMT(psiPID) {
				delete(d.psi, psiPID)
			}
		}
		d.log.Debug("PAT", "programs", len(pat.Programs))
	}

	for _, pmt := range tables.pmts {
		program, ok := d.routing.pmtPIDs[pid]
		if !ok {
			d.parseFailed(pid, "PMT", errMisplacedTable)
			continue
		}
		if program != pmt.ProgramNumber {
			d.parseFailed(pid, "PMT", fmt.Errorf("program %d on PMT PID of program %d", pmt.ProgramNumber, program))
			continue
		}
		removed := d.routing.applyPMT(pmt)
		d.stats.TablesParsed++
		d.dropStreams(removed)
		d.log.Debug("PMT", "pid", pid, "program", pmt.ProgramNumber, "streams", len(pmt.ElementaryStreams))
	}
}

func (d *Demuxer) dropStreams(pids []uint16) {
	for _, pid := range pids {
		d.pes.drop(pid)
		d.log.Debug("stream no longer tracked", "pid", pid)
	}
}

func (d *Demuxer) parseFailed(pid uint16, table string, err error) {
	d.stats.ParseErrors++
	d.log.Debug("table skipped", "pid", pid, "error", &ParseError{Table: table, PID: pid, Err: err})
}
