package mpegts

import "errors"

// ErrCRCMismatch is returned when a PSI section fails its CRC32 check.
var ErrCRCMismatch = errors.New("mpegts: CRC32 mismatch")

// MPEG-2 CRC32, polynomial 0x04C11DB7, no reflection.
var crc32Table [256]uint32

func init() {
	for i := range crc32Table {
		crc := uint32(i) << 24
		for range 8 {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
		crc32Table[i] = crc
	}
}

// ComputeCRC32 returns the MPEG-2 CRC32 of data. Running it over a section
// that ends with its own CRC yields zero.
func ComputeCRC32(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc = crc<<8 ^ crc32Table[byte(crc>>24)^b]
	}
	return crc
}

func verifyCRC32(data []byte) error {
	if len(data) < 4 {
		return ErrShortSection
	}
	if ComputeCRC32(data) != 0 {
		return ErrCRCMismatch
	}
	return nil
}
