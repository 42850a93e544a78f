package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// TLV represents dynamically typed, extensible fields within a message:
// attributes that may grow across protocol versions without a frame
// format change. No message type in this package carries a TLV;
// ChartDescriptor's uploader summary is a plain string field.
type TLV struct {
	Tag   uint16
	Value []byte `wire:"len_prefix=uint16"`
}

// NewTLV creates a new instance of TLV. If val is not already a []byte,
// it is marshalled using the package's struct-tag codec.
func NewTLV(tag uint16, val any) TLV {
	t := TLV{
		Tag: tag,
	}
	if b, ok := val.([]byte); ok {
		t.Value = b
	} else {
		buf := &bytes.Buffer{}
		if err := Marshal(val, buf); err != nil {
			panic(fmt.Sprintf("unable to create TLV: %s", err.Error()))
		}
		t.Value = buf.Bytes()
	}
	return t
}

// TLVRestBlock is a TLV array with no length information encoded in the
// blob; it occupies the remainder of whatever frame it is embedded in.
type TLVRestBlock struct {
	TLVList
}

// TLVBlock is a TLV array with the element count encoded as a 2-byte
// value at the start of the blob.
type TLVBlock struct {
	TLVList `wire:"count_prefix=uint16"`
}

// TLVLBlock is a TLV array with the byte length of the encoded blob
// written as a 2-byte value at the start of the blob.
type TLVLBlock struct {
	TLVList `wire:"len_prefix=uint16"`
}

// TLVList is a list of TLV elements with accessors that decode the
// value blob into the type the caller expects at runtime. Not safe for
// concurrent read-write access.
type TLVList []TLV

// Append adds a TLV to the end of the list.
func (s *TLVList) Append(tlv TLV) {
	*s = append(*s, tlv)
}

// AppendList adds a TLV list to the end of the list.
func (s *TLVList) AppendList(tlvs []TLV) {
	*s = append(*s, tlvs...)
}

// String retrieves the string value of a TLV with the given tag. It
// returns false if the tag is absent.
func (s *TLVList) String(tag uint16) (string, bool) {
	for _, tlv := range *s {
		if tag == tlv.Tag {
			return string(tlv.Value), true
		}
	}
	return "", false
}

// Slice retrieves the raw value of a TLV with the given tag. It returns
// false if the tag is absent.
func (s *TLVList) Slice(tag uint16) ([]byte, bool) {
	for _, tlv := range *s {
		if tag == tlv.Tag {
			return tlv.Value, true
		}
	}
	return nil, false
}

// Uint16 retrieves the uint16 value of a TLV with the given tag. It
// returns false if the tag is absent; it may panic if the value is
// shorter than 2 bytes.
func (s *TLVList) Uint16(tag uint16) (uint16, bool) {
	for _, tlv := range *s {
		if tag == tlv.Tag {
			return binary.BigEndian.Uint16(tlv.Value), true
		}
	}
	return 0, false
}

// Uint32 retrieves the uint32 value of a TLV with the given tag. It
// returns false if the tag is absent; it may panic if the value is
// shorter than 4 bytes.
func (s *TLVList) Uint32(tag uint16) (uint32, bool) {
	for _, tlv := range *s {
		if tag == tlv.Tag {
			return binary.BigEndian.Uint32(tlv.Value), true
		}
	}
	return 0, false
}
