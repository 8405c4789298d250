package klv

import (
	"errors"
	"fmt"

	"github.com/q191201771/naza/pkg/bele"
)

var (
	// ErrTruncated means the input ended inside a key, length or value.
	ErrTruncated     = errors.New("klv: truncated")
	// ErrInvalidLength means a BER length field is malformed or too large.
	ErrInvalidLength = errors.New("klv: invalid length field")
	// ErrInvalidKey means a key is neither a 16-byte UL nor a valid BER-OID tag.
	ErrInvalidKey    = errors.New("klv: invalid key")
)

// parseBERLength parses a BER length field according to SMPTE ST 336.
// It returns the length value and the number of bytes consumed.
func parseBERLength(data []byte) (int, int, error) {
	if len(data) < 1 {
		return 0, 0, ErrTruncated
	}

	firstByte := data[0]

	// Short form: if bit 7 is 0, the length is in the lower 7 bits
	if firstByte&0x80 == 0 {
		return int(firstByte), 1, nil
	}

	// Long form: bit 7 is 1, lower 7 bits indicate number of subsequent length bytes
	lengthBytes := int(firstByte & 0x7F)
	if lengthBytes == 0 || lengthBytes > 8 {
		return 0, 0, fmt.Errorf("%w: %d length bytes", ErrInvalidLength, lengthBytes)
	}
	if len(data) < 1+lengthBytes {
		return 0, 0, ErrTruncated
	}

	var v uint64
	for _, b := range data[1 : 1+lengthBytes] {
		v = v<<8 | uint64(b)
	}
	if v > uint64(maxValueLength) {
		return 0, 0, fmt.Errorf("%w: %d bytes", ErrInvalidLength, v)
	}
	return int(v), 1 + lengthBytes, nil
}

// maxValueLength caps decoded lengths so they always fit an int.
const maxValueLength = 1<<31 - 1

// parseBEROID parses a BER-OID encoded tag: seven bits per byte, high bit
// set on every byte but the last.
func parseBEROID(data []byte) (uint64, int, error) {
	var v uint64
	for i, b := range data {
		if i == 9 {
			return 0, 0, fmt.Errorf("%w: BER-OID longer than 9 bytes", ErrInvalidKey)
		}
		v = v<<7 | uint64(b&0x7F)
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	return 0, 0, ErrTruncated
}

func (c *Context) parseKey(data []byte) ([]byte, uint64, int, error) {
	if c.KeyLength == KeyLengthBEROID {
		tag, n, err := parseBEROID(data)
		if err != nil {
			return nil, 0, 0, err
		}
		return data[:n], tag, n, nil
	}

	n := int(c.KeyLength)
	if len(data) < n {
		return nil, 0, 0, ErrTruncated
	}
	key := data[:n]
	switch c.KeyLength {
	case KeyLength1:
		return key, uint64(key[0]), n, nil
	case KeyLength2:
		return key, uint64(bele.BeUint16(key)), n, nil
	case KeyLength4:
		return key, uint64(bele.BeUint32(key)), n, nil
	case KeyLength16:
		return key, 0, n, nil
	}
	return nil, 0, 0, fmt.Errorf("%w: key length %d", ErrInvalidKey, c.KeyLength)
}

func (c *Context) parseLength(data []byte) (int, int, error) {
	switch c.LengthEncoding {
	case LengthBER:
		return parseBERLength(data)
	case Length1:
		if len(data) < 1 {
			return 0, 0, ErrTruncated
		}
		return int(data[0]), 1, nil
	case Length2:
		if len(data) < 2 {
			return 0, 0, ErrTruncated
		}
		return int(bele.BeUint16(data)), 2, nil
	case Length4:
		if len(data) < 4 {
			return 0, 0, ErrTruncated
		}
		v := bele.BeUint32(data)
		if v > maxValueLength {
			return 0, 0, fmt.Errorf("%w: %d bytes", ErrInvalidLength, v)
		}
		return int(v), 4, nil
	}
	return 0, 0, fmt.Errorf("%w: encoding %d", ErrInvalidLength, c.LengthEncoding)
}

// AppendBERLength appends n as a BER length field, using the short form
// when it fits.
func AppendBERLength(dst []byte, n int) []byte {
	if n < 0x80 {
		return append(dst, byte(n))
	}
	var tmp [8]byte
	i := len(tmp)
	for v := uint64(n); v > 0; v >>= 8 {
		i--
		tmp[i] = byte(v)
	}
	dst = append(dst, 0x80|byte(len(tmp)-i))
	return append(dst, tmp[i:]...)
}
