// Package klv decodes SMPTE ST 336 Key-Length-Value data against a
// dictionary of known keys. Universal sets use 16-byte labels; local sets
// use short integer tags. Values are decoded into typed fields kept in wire
// order.
package klv

import "fmt"

// KeyLength is the encoding of keys within a context.
type KeyLength int

const (
	KeyLength1      KeyLength = 1
	KeyLength2      KeyLength = 2
	KeyLength4      KeyLength = 4
	KeyLength16     KeyLength = 16
	KeyLengthBEROID KeyLength = -1
)

// LengthEncoding is the encoding of value lengths within a context.
type LengthEncoding int

const (
	LengthBER LengthEncoding = iota
	Length1
	Length2
	Length4
)

// Kind selects how an element's value bytes are interpreted.
type Kind uint8

const (
	KindUnsigned Kind = iota + 1
	KindSigned
	KindString
	KindBytes
	KindIEFP
	KindSet
)

func (k Kind) String() string {
	switch k {
	case KindUnsigned:
		return "unsigned"
	case KindSigned:
		return "signed"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindIEFP:
		return "iefp"
	case KindSet:
		return "set"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Element describes how to decode the value stored under one key.
type Element struct {
	Name string
	Kind Kind
	// Size is the nominal value length in bytes for numeric kinds. Shorter
	// values are accepted; longer ones are a decoding error. Zero allows up
	// to 8 bytes.
	Size int

	// Signed selects two's complement raw values for KindIEFP.
	Signed bool
	// EncodedMin and EncodedMax bound the raw integer of a KindIEFP
	// element; Min and Max are the float range they map onto. Raw values
	// outside the encoded range carry no value (MISB error indicator).
	EncodedMin, EncodedMax int64
	Min, Max               float64

	// Set is the dictionary of a KindSet element.
	Set *Context
}

// Unsigned returns an unsigned integer element of at most size bytes.
func Unsigned(name string, size int) Element {
	return Element{Name: name, Kind: KindUnsigned, Size: size}
}

// Signed returns a two's complement integer element of at most size bytes.
func Signed(name string, size int) Element {
	return Element{Name: name, Kind: KindSigned, Size: size}
}

// String returns a text element.
func String(name string) Element {
	return Element{Name: name, Kind: KindString}
}

// Bytes returns an opaque element.
func Bytes(name string) Element {
	return Element{Name: name, Kind: KindBytes}
}

// IEFP returns an integer-encoded floating point element: a raw integer
// in [encMin, encMax] is mapped linearly onto [min, max].
func IEFP(name string, size int, signed bool, encMin, encMax int64, min, max float64) Element {
	return Element{
		Name:       name,
		Kind:       KindIEFP,
		Size:       size,
		Signed:     signed,
		EncodedMin: encMin,
		EncodedMax: encMax,
		Min:        min,
		Max:        max,
	}
}

// LocalSet returns an element whose value is a nested set decoded with ctx.
func LocalSet(name string, ctx *Context) Element {
	return Element{Name: name, Kind: KindSet, Set: ctx}
}

// Context is a KLV dictionary: the key and length encodings of one set
// plus the elements it knows about.
type Context struct {
	KeyLength      KeyLength
	LengthEncoding LengthEncoding

	tags   map[uint64]*Element
	labels map[string]*Element
}

// NewContext creates an empty dictionary.
func NewContext(keyLength KeyLength, lengthEncoding LengthEncoding) *Context {
	return &Context{
		KeyLength:      keyLength,
		LengthEncoding: lengthEncoding,
		tags:           make(map[uint64]*Element),
		labels:         make(map[string]*Element),
	}
}

// AddLabel registers an element under a 16-byte universal label.
func (c *Context) AddLabel(label []byte, e Element) *Context {
	c.labels[string(label)] = &e
	return c
}

// AddTag registers an element under an integer tag.
func (c *Context) AddTag(tag uint64, e Element) *Context {
	c.tags[tag] = &e
	return c
}

func (c *Context) lookup(key []byte, tag uint64) (*Element, bool) {
	if c.KeyLength == KeyLength16 {
		e, ok := c.labels[string(key)]
		return e, ok
	}
	e, ok := c.tags[tag]
	return e, ok
}
