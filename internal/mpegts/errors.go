package mpegts

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the demuxer. ErrBufferOverflow is the only
// condition that ends a session; everything else is recoverable.
var (
	ErrBufferOverflow = errors.New("mpegts: PES reassembly buffer exceeded")
	ErrNoPrograms     = errors.New("mpegts: no programs found in PAT")
	ErrShortPacket    = errors.New("mpegts: packet too short")
	ErrShortSection   = errors.New("mpegts: section too short for CRC32")
)

// ParseError reports malformed PAT, PMT or PES header bytes. The offending
// packet is skipped and routing state is left untouched.
type ParseError struct {
	Table string
	PID   uint16
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("mpegts: parse %s on PID 0x%04X: %v", e.Table, e.PID, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
