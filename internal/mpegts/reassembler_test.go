package mpegts

import (
	"bytes"
	"errors"
	"testing"
)

func esPacket(pid uint16, cc uint8, pusi bool, payload ...byte) *Packet {
	return &Packet{
		Header: PacketHeader{
			PID:                       pid,
			ContinuityCounter:         cc,
			HasPayload:                true,
			PayloadUnitStartIndicator: pusi,
		},
		Payload: payload,
	}
}

func TestReassembler_PUSIFlush(t *testing.T) {
	t.Parallel()
	r := newReassembler(0, false)

	if pes, res, _ := r.add(esPacket(0x100, 0, true, 0x01), StreamTypeH264); pes != nil || res != feedStarted {
		t.Error("first packet should start a buffer without output")
	}
	if pes, _, _ := r.add(esPacket(0x100, 1, false, 0x02), StreamTypeH264); pes != nil {
		t.Error("continuation should not complete a packet")
	}

	pes, _, err := r.add(esPacket(0x100, 2, true, 0x03), StreamTypeH264)
	if err != nil {
		t.Fatal(err)
	}
	if pes == nil {
		t.Fatal("PUSI should complete the open packet")
	}
	if !bytes.Equal(pes.Payload, []byte{0x01, 0x02}) {
		t.Errorf("payload = % X, want 01 02", pes.Payload)
	}
	if pes.PID != 0x100 || pes.StreamType != StreamTypeH264 {
		t.Errorf("pes = PID 0x%X type %v", pes.PID, pes.StreamType)
	}
}

func TestReassembler_GapWithoutStart(t *testing.T) {
	t.Parallel()
	r := newReassembler(0, false)

	// Joining mid-packet: continuations before the first start are dropped.
	for cc := range uint8(3) {
		if _, res, _ := r.add(esPacket(0x100, cc, false, 0xEE), StreamTypeH264); res != feedGap {
			t.Errorf("packet %d result = %d, want gap", cc, res)
		}
	}
	r.add(esPacket(0x100, 3, true, 0x01), StreamTypeH264)
	pes, _, _ := r.add(esPacket(0x100, 4, true, 0x02), StreamTypeH264)
	if pes == nil || !bytes.Equal(pes.Payload, []byte{0x01}) {
		t.Errorf("payload = %v, want [01]", pes)
	}
}

func TestReassembler_PIDsIndependent(t *testing.T) {
	t.Parallel()
	r := newReassembler(0, false)

	r.add(esPacket(0x100, 0, true, 0xA1), StreamTypeH264)
	r.add(esPacket(0x101, 0, true, 0xB1), StreamTypeMetadataPES)
	r.add(esPacket(0x100, 1, false, 0xA2), StreamTypeH264)
	r.add(esPacket(0x101, 1, false, 0xB2), StreamTypeMetadataPES)

	pes, _, _ := r.add(esPacket(0x101, 2, true, 0xB3), StreamTypeMetadataPES)
	if pes == nil || !bytes.Equal(pes.Payload, []byte{0xB1, 0xB2}) {
		t.Fatalf("PID 0x101 payload = %v, want B1 B2", pes)
	}
	pes, _, _ = r.add(esPacket(0x100, 2, true, 0xA3), StreamTypeH264)
	if pes == nil || !bytes.Equal(pes.Payload, []byte{0xA1, 0xA2}) {
		t.Fatalf("PID 0x100 payload = %v, want A1 A2", pes)
	}
}

func TestReassembler_NoPayloadIgnored(t *testing.T) {
	t.Parallel()
	r := newReassembler(0, false)
	r.add(esPacket(0x100, 0, true, 0x01), StreamTypeH264)

	p := &Packet{Header: PacketHeader{PID: 0x100, HasAdaptationField: true, ContinuityCounter: 0}}
	if _, res, _ := r.add(p, StreamTypeH264); res != feedIgnored {
		t.Errorf("adaptation-only result = %d, want ignored", res)
	}

	pes, _, _ := r.add(esPacket(0x100, 1, true, 0x02), StreamTypeH264)
	if pes == nil || !bytes.Equal(pes.Payload, []byte{0x01}) {
		t.Errorf("payload = %v, want [01]", pes)
	}
}

func TestReassembler_Overflow(t *testing.T) {
	t.Parallel()
	r := newReassembler(4, false)
	r.add(esPacket(0x100, 0, true, 0x01, 0x02, 0x03), StreamTypeH264)

	_, _, err := r.add(esPacket(0x100, 1, false, 0x04, 0x05), StreamTypeH264)
	if !errors.Is(err, ErrBufferOverflow) {
		t.Fatalf("err = %v, want ErrBufferOverflow", err)
	}
	if len(r.flush()) != 0 {
		t.Error("overflowing buffer should be discarded")
	}
}

func TestReassembler_Flush(t *testing.T) {
	t.Parallel()
	r := newReassembler(0, false)
	r.add(esPacket(0x200, 0, true, 0x02), StreamTypeH264)
	r.add(esPacket(0x100, 0, true, 0x01), StreamTypeH264)

	flushed := r.flush()
	if len(flushed) != 2 {
		t.Fatalf("flushed %d packets, want 2", len(flushed))
	}
	if flushed[0].PID != 0x100 || flushed[1].PID != 0x200 {
		t.Errorf("flush order = 0x%X, 0x%X; want PID order", flushed[0].PID, flushed[1].PID)
	}
	if len(r.flush()) != 0 {
		t.Error("second flush should be empty")
	}
}

func TestReassembler_StrictCCDiscontinuity(t *testing.T) {
	t.Parallel()
	r := newReassembler(0, true)

	r.add(esPacket(0x100, 0, true, 0x01), StreamTypeH264)
	r.add(esPacket(0x100, 1, false, 0x02), StreamTypeH264)

	// CC jump from 1 to 5 (skip 2,3,4)
	if _, res, _ := r.add(esPacket(0x100, 5, false, 0x03), StreamTypeH264); res != feedDiscontinuity {
		t.Errorf("result = %d, want discontinuity", res)
	}

	// The damaged packet is gone; the next start begins cleanly.
	if pes, _, _ := r.add(esPacket(0x100, 6, true, 0x04), StreamTypeH264); pes != nil {
		t.Errorf("damaged packet emitted: % X", pes.Payload)
	}
	pes, _, _ := r.add(esPacket(0x100, 7, true, 0x05), StreamTypeH264)
	if pes == nil || !bytes.Equal(pes.Payload, []byte{0x04}) {
		t.Errorf("payload = %v, want [04]", pes)
	}
}

func TestReassembler_StrictDuplicateFilter(t *testing.T) {
	t.Parallel()
	r := newReassembler(0, true)

	r.add(esPacket(0x100, 3, true, 0x01), StreamTypeH264)
	if _, res, _ := r.add(esPacket(0x100, 3, false, 0x01), StreamTypeH264); res != feedDuplicate {
		t.Errorf("result = %d, want duplicate", res)
	}

	pes, _, _ := r.add(esPacket(0x100, 4, true, 0x02), StreamTypeH264)
	if pes == nil || !bytes.Equal(pes.Payload, []byte{0x01}) {
		t.Errorf("payload = %v, want [01]", pes)
	}
}

func TestReassembler_StrictCCWraparound(t *testing.T) {
	t.Parallel()
	r := newReassembler(0, true)

	r.add(esPacket(0x100, 15, true, 0x01), StreamTypeH264)
	if _, res, _ := r.add(esPacket(0x100, 0, false, 0x02), StreamTypeH264); res != feedAppended {
		t.Errorf("CC 15 -> 0 result = %d, want appended", res)
	}
}

func TestReassembler_StrictDiscontinuityIndicator(t *testing.T) {
	t.Parallel()
	r := newReassembler(0, true)

	r.add(esPacket(0x100, 0, true, 0x01), StreamTypeH264)
	p := esPacket(0x100, 9, false, 0x02)
	p.Header.DiscontinuityIndicator = true
	if _, res, _ := r.add(p, StreamTypeH264); res != feedAppended {
		t.Errorf("signaled jump result = %d, want appended", res)
	}
}

func TestReassembler_StrictTEIDiscard(t *testing.T) {
	t.Parallel()
	r := newReassembler(0, true)

	r.add(esPacket(0x100, 0, true, 0x01), StreamTypeH264)
	p := esPacket(0x100, 1, false, 0x02)
	p.Header.TransportErrorIndicator = true
	r.add(p, StreamTypeH264)

	if pes, _, _ := r.add(esPacket(0x100, 2, true, 0x03), StreamTypeH264); pes != nil {
		t.Error("TEI should discard the open packet")
	}
}
