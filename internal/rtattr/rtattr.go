// Package rtattr decodes the type-length-value attribute streams carried
// inside rtnetlink messages.
package rtattr

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// HeaderLen is the size of the {len, type} header preceding each payload.
	HeaderLen = 4

	alignTo = 4
)

// Align rounds n up to the attribute alignment boundary.
func Align(n int) int {
	return (n + alignTo - 1) &^ (alignTo - 1)
}

// Attr is a single decoded attribute. Payload aliases the input stream.
type Attr struct {
	Type    uint16
	Payload []byte
}

// Table holds the last attribute seen for every type in [0, maxType].
type Table struct {
	attrs []*Attr
}

// Get returns the attribute of the given type, if present.
func (t Table) Get(typ uint16) (Attr, bool) {
	if int(typ) >= len(t.attrs) || t.attrs[typ] == nil {
		return Attr{}, false
	}
	return *t.attrs[typ], true
}

// Has reports whether an attribute of the given type was decoded.
func (t Table) Has(typ uint16) bool {
	_, ok := t.Get(typ)
	return ok
}

// String returns the payload of typ as a string, cut at the first NUL.
func (t Table) String(typ uint16) (string, bool) {
	a, ok := t.Get(typ)
	if !ok {
		return "", false
	}
	if i := bytes.IndexByte(a.Payload, 0); i >= 0 {
		return string(a.Payload[:i]), true
	}
	return string(a.Payload), true
}

// Len returns the number of distinct attribute types present.
func (t Table) Len() int {
	n := 0
	for _, a := range t.attrs {
		if a != nil {
			n++
		}
	}
	return n
}

// LengthError reports an attribute stream whose length accounting does not
// add up. The message source is trusted, so callers treat it as fatal.
type LengthError struct {
	Declared  int
	Remaining int
	// AttrLen is the length field of the record that failed to fit, or -1
	// when fewer than HeaderLen bytes were left.
	AttrLen int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("rtattr: length deficit %d of %d declared bytes (rta_len=%d)",
		e.Remaining, e.Declared, e.AttrLen)
}

// Decode walks declaredLen bytes of stream. Records with a type above
// maxType are skipped; a later record of the same type replaces an earlier
// one. A nonzero remainder after the walk yields a *LengthError.
func Decode(stream []byte, declaredLen int, maxType int) (Table, error) {
	t := Table{attrs: make([]*Attr, maxType+1)}

	remaining := declaredLen
	off := 0
	attrLen := -1
	for remaining >= HeaderLen && off+HeaderLen <= len(stream) {
		attrLen = int(binary.NativeEndian.Uint16(stream[off:]))
		if attrLen < HeaderLen || attrLen > remaining || off+attrLen > len(stream) {
			break
		}
		typ := binary.NativeEndian.Uint16(stream[off+2:])
		if int(typ) <= maxType {
			t.attrs[typ] = &Attr{Type: typ, Payload: stream[off+HeaderLen : off+attrLen]}
		}

		step := Align(attrLen)
		off += step
		remaining -= step
		attrLen = -1
	}

	if remaining != 0 {
		return t, &LengthError{Declared: declaredLen, Remaining: remaining, AttrLen: attrLen}
	}
	return t, nil
}

// Append encodes one attribute onto b, padding the payload to alignment.
func Append(b []byte, typ uint16, payload []byte) []byte {
	var hdr [HeaderLen]byte
	binary.NativeEndian.PutUint16(hdr[0:], uint16(HeaderLen+len(payload)))
	binary.NativeEndian.PutUint16(hdr[2:], typ)
	b = append(b, hdr[:]...)
	b = append(b, payload...)
	for pad := Align(len(payload)) - len(payload); pad > 0; pad-- {
		b = append(b, 0)
	}
	return b
}
