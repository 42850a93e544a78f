// Package wire implements the binary framing and struct-tag-driven
// marshal/unmarshal engine used by the TCP game protocol.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
)

var (
	ErrMarshalFailure     = errors.New("failed to marshal")
	ErrUnmarshalFailure   = errors.New("failed to unmarshal")
	errMarshalFailureNil  = errors.New("attempting to marshal a nil message")
	errNonOptionalPointer = errors.New("pointer fields must reference structs and have an `optional` struct tag")
	errOptionalNonPointer = errors.New("optional fields must be pointers")
	errInvalidStructTag   = errors.New("invalid struct tag")
	errNotNullTerminated  = errors.New("nullterm tag is set, but string is not null-terminated")
)

// Marshal encodes v, a pointer to a tagged struct (or a tagged struct
// value), to w in big-endian byte order. Every message on the wire is
// big-endian; there is no little-endian variant.
func Marshal(v any, w io.Writer) error {
	if err := marshal(reflect.TypeOf(v), reflect.ValueOf(v), "", w, binary.BigEndian); err != nil {
		return fmt.Errorf("%w: %w", ErrMarshalFailure, err)
	}
	return nil
}

// Unmarshal decodes into v, a pointer to a tagged struct, from r.
func Unmarshal(v any, r io.Reader) error {
	if err := unmarshal(reflect.TypeOf(v).Elem(), reflect.ValueOf(v).Elem(), "", r, binary.BigEndian); err != nil {
		return fmt.Errorf("%w: %w", ErrUnmarshalFailure, err)
	}
	return nil
}

func marshal(t reflect.Type, v reflect.Value, tag reflect.StructTag, w io.Writer, order binary.ByteOrder) error {
	if t == nil {
		return errMarshalFailureNil
	}

	wTag, err := parseWireTag(tag)
	if err != nil {
		return err
	}

	if wTag.optional {
		if t.Kind() != reflect.Ptr {
			return fmt.Errorf("%w: got %v", errOptionalNonPointer, t.Kind())
		}
		if v.IsNil() {
			return nil
		}
		return marshalStruct(t.Elem(), v.Elem(), wTag, w, order)
	} else if t.Kind() == reflect.Ptr {
		return errNonOptionalPointer
	}

	switch t.Kind() {
	case reflect.Slice:
		return marshalSlice(t, v, wTag, w, order)
	case reflect.String:
		return marshalString(wTag, v, w, order)
	case reflect.Struct:
		return marshalStruct(t, v, wTag, w, order)
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return binary.Write(w, order, v.Interface())
	case reflect.Interface:
		return marshalInterface(v, w, wTag, order)
	default:
		return fmt.Errorf("unsupported type %v", t.Kind())
	}
}

func marshalInterface(v reflect.Value, w io.Writer, tag wireTag, order binary.ByteOrder) error {
	elem := v.Elem()
	if elem.Kind() != reflect.Struct {
		return fmt.Errorf("interface underlying type must be a struct, got %v instead", elem.Kind())
	}
	return marshalStruct(elem.Type(), elem, tag, w, order)
}

func marshalSlice(t reflect.Type, v reflect.Value, wTag wireTag, w io.Writer, order binary.ByteOrder) error {
	buf := &bytes.Buffer{}
	if t.Elem().Kind() == reflect.Struct {
		for j := 0; j < v.Len(); j++ {
			if err := marshalStruct(t.Elem(), v.Index(j), wireTag{}, buf, order); err != nil {
				return err
			}
		}
	} else {
		if err := binary.Write(buf, order, v.Interface()); err != nil {
			return fmt.Errorf("error marshalling %s", t.Elem().Kind())
		}
	}

	if wTag.hasLenPrefix {
		if err := marshalUnsignedInt(wTag.lenPrefix, buf.Len(), w, order); err != nil {
			return err
		}
	} else if wTag.hasCountPrefix {
		if err := marshalUnsignedInt(wTag.countPrefix, v.Len(), w, order); err != nil {
			return err
		}
	}
	if buf.Len() > 0 {
		_, err := w.Write(buf.Bytes())
		return err
	}
	return nil
}

func marshalString(wTag wireTag, v reflect.Value, w io.Writer, order binary.ByteOrder) error {
	str := v.String()
	if wTag.nullTerminated && str != "" {
		str = str + "\x00"
	}
	if wTag.hasLenPrefix {
		if err := marshalUnsignedInt(wTag.lenPrefix, len(str), w, order); err != nil {
			return err
		}
	}
	if str == "" {
		return nil
	}
	return binary.Write(w, order, []byte(str))
}

func marshalStruct(t reflect.Type, v reflect.Value, wTag wireTag, w io.Writer, order binary.ByteOrder) error {
	marshalEachField := func(w io.Writer) error {
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			value := v.Field(i)
			if field.Type.Kind() == reflect.Ptr {
				if i != t.NumField()-1 {
					return fmt.Errorf("pointer type found at non-final field %s", field.Name)
				}
				if field.Type.Elem().Kind() != reflect.Struct {
					return fmt.Errorf("field %s must point to a struct, got %v instead", field.Name,
						field.Type.Elem().Kind())
				}
			}
			if err := marshal(field.Type, value, field.Tag, w, order); err != nil {
				return err
			}
		}
		return nil
	}
	if wTag.hasLenPrefix {
		buf := &bytes.Buffer{}
		if err := marshalEachField(buf); err != nil {
			return err
		}
		if err := marshalUnsignedInt(wTag.lenPrefix, buf.Len(), w, order); err != nil {
			return err
		}
		if buf.Len() > 0 {
			_, err := w.Write(buf.Bytes())
			return err
		}
		return nil
	}
	return marshalEachField(w)
}

func marshalUnsignedInt(intType reflect.Kind, intVal int, w io.Writer, order binary.ByteOrder) error {
	switch intType {
	case reflect.Uint8:
		return binary.Write(w, order, uint8(intVal))
	case reflect.Uint16:
		return binary.Write(w, order, uint16(intVal))
	default:
		panic(fmt.Sprintf("unsupported type %s. allowed types: uint8, uint16", intType))
	}
}

func unmarshal(t reflect.Type, v reflect.Value, tag reflect.StructTag, r io.Reader, order binary.ByteOrder) error {
	wTag, err := parseWireTag(tag)
	if err != nil {
		return fmt.Errorf("error parsing tag: %w", err)
	}

	if wTag.optional {
		v.Set(reflect.New(t.Elem()))
		err := unmarshalStruct(t.Elem(), v.Elem(), wTag, r, order)
		if errors.Is(err, io.EOF) {
			v.Set(reflect.Zero(t))
			err = nil
		}
		return err
	} else if v.Kind() == reflect.Ptr {
		return errNonOptionalPointer
	}

	switch v.Kind() {
	case reflect.Slice:
		return unmarshalSlice(v, wTag, r, order)
	case reflect.String:
		return unmarshalString(v, wTag, r, order)
	case reflect.Struct:
		return unmarshalStruct(t, v, wTag, r, order)
	case reflect.Uint8:
		var l uint8
		if err := binary.Read(r, order, &l); err != nil {
			return err
		}
		v.Set(reflect.ValueOf(l))
		return nil
	case reflect.Uint16:
		var l uint16
		if err := binary.Read(r, order, &l); err != nil {
			return err
		}
		v.Set(reflect.ValueOf(l))
		return nil
	case reflect.Uint32:
		var l uint32
		if err := binary.Read(r, order, &l); err != nil {
			return err
		}
		v.Set(reflect.ValueOf(l))
		return nil
	case reflect.Uint64:
		var l uint64
		if err := binary.Read(r, order, &l); err != nil {
			return err
		}
		v.Set(reflect.ValueOf(l))
		return nil
	default:
		return fmt.Errorf("unsupported type %v", t.Kind())
	}
}

func unmarshalSlice(v reflect.Value, wTag wireTag, r io.Reader, order binary.ByteOrder) error {
	slice := reflect.New(v.Type()).Elem()
	elemType := v.Type().Elem()

	if wTag.hasLenPrefix {
		bufLen, err := unmarshalUnsignedInt(wTag.lenPrefix, r, order)
		if err != nil {
			return err
		}
		b := make([]byte, bufLen)
		if bufLen > 0 {
			if _, err := io.ReadFull(r, b); err != nil {
				return err
			}
		}
		buf := bytes.NewBuffer(b)
		for buf.Len() > 0 {
			elem := reflect.New(elemType).Elem()
			if err := unmarshal(elemType, elem, "", buf, order); err != nil {
				return err
			}
			slice = reflect.Append(slice, elem)
		}
	} else if wTag.hasCountPrefix {
		count, err := unmarshalUnsignedInt(wTag.countPrefix, r, order)
		if err != nil {
			return err
		}
		for i := 0; i < count; i++ {
			elem := reflect.New(elemType).Elem()
			if err := unmarshal(elemType, elem, "", r, order); err != nil {
				return err
			}
			slice = reflect.Append(slice, elem)
		}
	} else {
		for {
			elem := reflect.New(elemType).Elem()
			if err := unmarshal(elemType, elem, "", r, order); err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return err
			}
			slice = reflect.Append(slice, elem)
		}
	}
	v.Set(slice)
	return nil
}

func unmarshalString(v reflect.Value, wTag wireTag, r io.Reader, order binary.ByteOrder) error {
	if !wTag.hasLenPrefix {
		return fmt.Errorf("missing len_prefix tag")
	}
	bufLen, err := unmarshalUnsignedInt(wTag.lenPrefix, r, order)
	if err != nil {
		return err
	}
	buf := make([]byte, bufLen)
	if bufLen > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}
		if wTag.nullTerminated {
			if buf[len(buf)-1] != 0x00 {
				return errNotNullTerminated
			}
			buf = buf[0 : len(buf)-1]
		}
	}
	v.SetString(string(buf))
	return nil
}

func unmarshalStruct(t reflect.Type, v reflect.Value, wTag wireTag, r io.Reader, order binary.ByteOrder) error {
	if wTag.hasLenPrefix {
		bufLen, err := unmarshalUnsignedInt(wTag.lenPrefix, r, order)
		if err != nil {
			return err
		}
		b := make([]byte, bufLen)
		if bufLen > 0 {
			if _, err := io.ReadFull(r, b); err != nil {
				return err
			}
		}
		r = bytes.NewBuffer(b)
	}
	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)
		if field.Type.Kind() == reflect.Ptr {
			if i != v.NumField()-1 {
				return fmt.Errorf("pointer type found at non-final field %s", field.Name)
			}
			if field.Type.Elem().Kind() != reflect.Struct {
				return fmt.Errorf("%w: field %s must point to a struct, got %v instead",
					errNonOptionalPointer, field.Name, field.Type.Elem().Kind())
			}
		}
		if err := unmarshal(field.Type, value, field.Tag, r, order); err != nil {
			return err
		}
	}
	return nil
}

func unmarshalUnsignedInt(intType reflect.Kind, r io.Reader, order binary.ByteOrder) (int, error) {
	var bufLen int
	switch intType {
	case reflect.Uint8:
		var l uint8
		if err := binary.Read(r, order, &l); err != nil {
			return 0, err
		}
		bufLen = int(l)
	case reflect.Uint16:
		var l uint16
		if err := binary.Read(r, order, &l); err != nil {
			return 0, err
		}
		bufLen = int(l)
	default:
		panic(fmt.Sprintf("unsupported type %s. allowed types: uint8, uint16", intType))
	}
	return bufLen, nil
}

type wireTag struct {
	hasCountPrefix bool
	countPrefix    reflect.Kind
	hasLenPrefix   bool
	lenPrefix      reflect.Kind
	optional       bool
	nullTerminated bool
}

func parseWireTag(tag reflect.StructTag) (wireTag, error) {
	var wTag wireTag

	val, ok := tag.Lookup("wire")
	if !ok {
		return wTag, nil
	}

	for _, kv := range strings.Split(val, ",") {
		kvSplit := strings.SplitN(kv, "=", 2)
		if len(kvSplit) == 2 {
			switch kvSplit[0] {
			case "len_prefix":
				wTag.hasLenPrefix = true
				switch kvSplit[1] {
				case "uint8":
					wTag.lenPrefix = reflect.Uint8
				case "uint16":
					wTag.lenPrefix = reflect.Uint16
				default:
					return wTag, fmt.Errorf("%w: unsupported type %s. allowed types: uint8, uint16",
						errInvalidStructTag, kvSplit[1])
				}
			case "count_prefix":
				wTag.hasCountPrefix = true
				switch kvSplit[1] {
				case "uint8":
					wTag.countPrefix = reflect.Uint8
				case "uint16":
					wTag.countPrefix = reflect.Uint16
				default:
					return wTag, fmt.Errorf("%w: unsupported type %s. allowed types: uint8, uint16",
						errInvalidStructTag, kvSplit[1])
				}
			}
		} else {
			switch kvSplit[0] {
			case "optional":
				wTag.optional = true
			case "nullterm":
				wTag.nullTerminated = true
			default:
				return wTag, fmt.Errorf("%w: unsupported struct tag %s",
					errInvalidStructTag, kvSplit[0])
			}
		}
	}

	var err error
	if wTag.hasCountPrefix && wTag.hasLenPrefix {
		err = fmt.Errorf("%w: struct elem has both len_prefix and count_prefix", errInvalidStructTag)
	}
	return wTag, err
}
