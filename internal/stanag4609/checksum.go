package stanag4609

import (
	"errors"
	"fmt"

	"github.com/zsiec/klvts/internal/klv"
)

var (
	// ErrNoLocalSet means the KLV holds no UAS Datalink Local Set.
	ErrNoLocalSet       = errors.New("stanag4609: KLV did not contain the UAS Datalink Local Set")
	// ErrNoChecksum means the local set lacks its checksum item.
	ErrNoChecksum       = errors.New("stanag4609: UAS Datalink Local Set has no checksum")
	// ErrChecksumMismatch means the stored checksum differs from the computed one.
	ErrChecksumMismatch = errors.New("stanag4609: checksum mismatch")
)

// ComputeChecksum returns the 16-bit running sum MISB ST 0601 uses: bytes
// at even positions are added as the high byte of a word, odd ones as the
// low byte.
func ComputeChecksum(b []byte) uint16 {
	var sum uint16
	for i, c := range b {
		sum += uint16(c) << (8 * ((i + 1) % 2))
	}
	return sum
}

// validateChecksum checks every UAS Datalink Local Set in set against the
// KLV bytes it was decoded from. The sum runs from the first byte of the
// universal key through the checksum length byte.
func validateChecksum(set *klv.Set, b []byte) error {
	found := false
	for _, f := range set.Fields {
		if f.Name != UASLocalSet {
			continue
		}
		found = true

		ls, ok := f.Value.(*klv.Set)
		if !ok {
			return &klv.DecodingError{Offset: f.Offset, Key: UASLocalSet, Err: ErrNoLocalSet}
		}
		want, ok := ls.Unsigned(Checksum)
		if !ok {
			return &klv.DecodingError{Offset: f.Offset, Key: UASLocalSet, Err: ErrNoChecksum}
		}
		end := f.Offset + f.Size - 2
		if end < f.Offset || end > len(b) {
			return &klv.DecodingError{Offset: f.Offset, Key: Checksum, Err: ErrNoChecksum}
		}
		if got := ComputeChecksum(b[f.Offset:end]); uint64(got) != want {
			return &klv.DecodingError{
				Offset: f.Offset,
				Key:    Checksum,
				Err:    fmt.Errorf("%w: computed 0x%04X, packet has 0x%04X", ErrChecksumMismatch, got, want),
			}
		}
	}
	if !found {
		return &klv.DecodingError{Err: ErrNoLocalSet}
	}
	return nil
}
