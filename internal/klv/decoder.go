package klv

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/q191201771/naza/pkg/bele"
	"golang.org/x/text/encoding/charmap"
)

var errValueSize = errors.New("value larger than element size")

// DecodingError reports KLV bytes the decoder could not interpret.
type DecodingError struct {
	// Offset is the position of the offending item in the decoded input.
	Offset int
	Key    string
	Err    error
}

func (e *DecodingError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("klv: decode %q at offset %d: %v", e.Key, e.Offset, e.Err)
	}
	return fmt.Sprintf("klv: decode at offset %d: %v", e.Offset, e.Err)
}

func (e *DecodingError) Unwrap() error {
	return e.Err
}

// Decoder decodes KLV bytes against a dictionary. It holds no per-call
// state and may be shared.
type Decoder struct {
	ctx *Context
}

// NewDecoder creates a decoder for the given dictionary.
func NewDecoder(ctx *Context) *Decoder {
	return &Decoder{ctx: ctx}
}

// Decode decodes every KLV triplet in b. Keys missing from the dictionary
// are skipped.
func (d *Decoder) Decode(b []byte) (*Set, error) {
	return decodeSet(d.ctx, b, 0)
}

func decodeSet(ctx *Context, b []byte, base int) (*Set, error) {
	set := &Set{}
	off := 0
	for off < len(b) {
		start := off

		key, tag, n, err := ctx.parseKey(b[off:])
		if err != nil {
			return nil, &DecodingError{Offset: base + start, Err: err}
		}
		off += n

		length, n, err := ctx.parseLength(b[off:])
		if err != nil {
			return nil, &DecodingError{Offset: base + start, Err: err}
		}
		off += n

		if length > len(b)-off {
			return nil, &DecodingError{
				Offset: base + start,
				Err:    fmt.Errorf("%w: value of %d bytes, %d left", ErrTruncated, length, len(b)-off),
			}
		}
		value := b[off : off+length]
		off += length

		e, ok := ctx.lookup(key, tag)
		if !ok {
			continue
		}

		f := Field{
			Name:   e.Name,
			Kind:   e.Kind,
			Tag:    tag,
			Raw:    value,
			Offset: base + start,
			Size:   off - start,
		}
		if ctx.KeyLength == KeyLength16 {
			f.Label = key
		}
		if err := decodeValue(e, &f, base+off-length); err != nil {
			if _, nested := err.(*DecodingError); nested {
				return nil, err
			}
			return nil, &DecodingError{Offset: base + start, Key: e.Name, Err: err}
		}
		set.Fields = append(set.Fields, f)
	}
	return set, nil
}

func decodeValue(e *Element, f *Field, valueOffset int) error {
	switch e.Kind {
	case KindUnsigned:
		v, err := readUnsigned(f.Raw, e.Size)
		if err != nil {
			return err
		}
		f.Value = v

	case KindSigned:
		v, err := readSigned(f.Raw, e.Size)
		if err != nil {
			return err
		}
		f.Value = v

	case KindString:
		f.Value = decodeText(f.Raw)

	case KindBytes:
		f.Value = f.Raw

	case KindIEFP:
		var raw int64
		if e.Signed {
			v, err := readSigned(f.Raw, e.Size)
			if err != nil {
				return err
			}
			raw = v
		} else {
			v, err := readUnsigned(f.Raw, e.Size)
			if err != nil {
				return err
			}
			if v > 1<<63-1 {
				return fmt.Errorf("unsigned value %d out of range", v)
			}
			raw = int64(v)
		}
		if raw < e.EncodedMin || raw > e.EncodedMax {
			// Error indicator: the field is present but carries no value.
			return nil
		}
		f.Value = e.Min + float64(raw-e.EncodedMin)*(e.Max-e.Min)/float64(e.EncodedMax-e.EncodedMin)

	case KindSet:
		if e.Set == nil {
			f.Value = f.Raw
			return nil
		}
		nested, err := decodeSet(e.Set, f.Raw, valueOffset)
		if err != nil {
			return err
		}
		f.Value = nested
	}
	return nil
}

func readUnsigned(b []byte, size int) (uint64, error) {
	if size == 0 {
		size = 8
	}
	if len(b) > size || len(b) > 8 {
		return 0, fmt.Errorf("%w: %d > %d bytes", errValueSize, len(b), size)
	}
	switch len(b) {
	case 2:
		return uint64(bele.BeUint16(b)), nil
	case 4:
		return uint64(bele.BeUint32(b)), nil
	case 8:
		return uint64(bele.BeUint32(b))<<32 | uint64(bele.BeUint32(b[4:])), nil
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

func readSigned(b []byte, size int) (int64, error) {
	u, err := readUnsigned(b, size)
	if err != nil || len(b) == 0 {
		return 0, err
	}
	shift := 64 - 8*uint(len(b))
	return int64(u<<shift) >> shift, nil
}

// decodeText decodes ISO 646 / UTF-8 text, falling back to ISO 8859-1 for
// byte sequences that are not valid UTF-8.
func decodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}
