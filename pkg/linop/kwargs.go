// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package linop

import (
	"bytes"
	"encoding/gob"
	"maps"
	"reflect"
	"slices"

	"github.com/pkg/errors"
)

// Kwargs are the extra (non-tensor) arguments of an operation call, passed to the abstract functions
// and, encoded as a blob, to the host functions.
type Kwargs map[string]any

// BatchAxesKey is the kwargs key under which a batched call receives the accumulated batch axes of each
// operand, as a [][]int: one entry per operand (fixed operands included), oldest axis first.
// Operands that are not batched have an empty entry.
const BatchAxesKey = "batch_axes"

const (
	kwargsMagic   = "LOKW"
	kwargsVersion = byte(2)
)

func init() {
	// Basic types and slices of basic types are pre-registered by gob.
	gob.Register([][]int{})
	gob.Register([][]float64{})
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// RegisterKwargsType registers the concrete type of value, so values of that type can be used in Kwargs.
// It must be called (usually in an init function) both where the blob is encoded and where it is decoded.
func RegisterKwargsType(value any) {
	gob.Register(value)
}

// Clone returns a shallow copy of the kwargs. It returns an empty (non-nil) map for nil kwargs.
func (kwargs Kwargs) Clone() Kwargs {
	if kwargs == nil {
		return Kwargs{}
	}
	return maps.Clone(kwargs)
}

// EncodeKwargs serializes the kwargs to an opaque blob, to be decoded by DecodeKwargs.
//
// Empty (non-nil) slices and maps, also when nested in slices and maps, decode as empty, not as nil.
// Slices and maps in struct fields follow gob's rules: empty ones decode as nil.
func EncodeKwargs(kwargs Kwargs) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(kwargsMagic)
	buf.WriteByte(kwargsVersion)
	m := map[string]any(kwargs)
	if m == nil {
		m = map[string]any{}
	}
	var empties kwargsEmpties
	for key, value := range m {
		findEmptyValues(reflect.ValueOf(value), []pathStep{{Key: key}}, &empties.Paths)
	}
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(m); err != nil {
		return nil, errors.Wrapf(err, "failed to encode kwargs %v", kwargs)
	}
	if err := enc.Encode(empties); err != nil {
		return nil, errors.Wrapf(err, "failed to encode kwargs %v", kwargs)
	}
	return buf.Bytes(), nil
}

// DecodeKwargs decodes a blob created by EncodeKwargs. It always returns a non-nil map on success.
//
// Corrupted or incompatible blobs return an error wrapping ErrMalformedKwargs.
func DecodeKwargs(blob []byte) (Kwargs, error) {
	header := len(kwargsMagic) + 1
	if len(blob) < header || string(blob[:len(kwargsMagic)]) != kwargsMagic {
		return nil, errors.Wrapf(ErrMalformedKwargs, "blob of %d bytes is missing the kwargs header", len(blob))
	}
	if version := blob[len(kwargsMagic)]; version != kwargsVersion {
		return nil, errors.Wrapf(ErrMalformedKwargs, "kwargs format version %d not supported (want %d)", version, kwargsVersion)
	}
	var (
		m       map[string]any
		empties kwargsEmpties
	)
	dec := gob.NewDecoder(bytes.NewReader(blob[header:]))
	if err := dec.Decode(&m); err != nil {
		return nil, errors.Wrapf(ErrMalformedKwargs, "%v", err)
	}
	if err := dec.Decode(&empties); err != nil {
		return nil, errors.Wrapf(ErrMalformedKwargs, "%v", err)
	}
	if m == nil {
		m = make(map[string]any)
	}
	mValue := reflect.ValueOf(m)
	for _, path := range empties.Paths {
		restoreEmpty(mValue, path)
	}
	return Kwargs(m), nil
}

// kwargsEmpties lists the paths to the empty slices and maps of the kwargs, which gob decodes as nil.
type kwargsEmpties struct {
	Paths [][]pathStep
}

// pathStep is a map key or, if InSlice, a slice index.
type pathStep struct {
	Key     string
	Index   int
	InSlice bool
}

// findEmptyValues appends to found the path of every non-nil empty slice or map within value.
func findEmptyValues(value reflect.Value, path []pathStep, found *[][]pathStep) {
	switch value.Kind() {
	case reflect.Interface:
		if !value.IsNil() {
			findEmptyValues(value.Elem(), path, found)
		}
	case reflect.Slice:
		if value.IsNil() {
			return
		}
		if value.Len() == 0 {
			*found = append(*found, slices.Clone(path))
			return
		}
		switch value.Type().Elem().Kind() {
		case reflect.Slice, reflect.Map, reflect.Interface:
			for ii := range value.Len() {
				findEmptyValues(value.Index(ii), append(path, pathStep{Index: ii, InSlice: true}), found)
			}
		}
	case reflect.Map:
		if value.IsNil() || value.Type().Key().Kind() != reflect.String {
			return
		}
		if value.Len() == 0 {
			*found = append(*found, slices.Clone(path))
			return
		}
		iter := value.MapRange()
		for iter.Next() {
			findEmptyValues(iter.Value(), append(path, pathStep{Key: iter.Key().String()}), found)
		}
	}
}

// restoreEmpty recreates the empty slice or map at path within value, and returns the updated value.
func restoreEmpty(value reflect.Value, path []pathStep) reflect.Value {
	if value.Kind() == reflect.Interface {
		if value.IsNil() {
			return value
		}
		return restoreEmpty(value.Elem(), path)
	}
	if len(path) == 0 {
		switch {
		case value.Kind() == reflect.Slice && value.IsNil():
			return reflect.MakeSlice(value.Type(), 0, 0)
		case value.Kind() == reflect.Map && value.IsNil():
			return reflect.MakeMap(value.Type())
		}
		return value
	}
	step := path[0]
	switch {
	case step.InSlice && value.Kind() == reflect.Slice:
		if step.Index < value.Len() {
			elem := value.Index(step.Index)
			elem.Set(restoreEmpty(elem, path[1:]))
		}
	case !step.InSlice && value.Kind() == reflect.Map && !value.IsNil() && value.Type().Key().Kind() == reflect.String:
		key := reflect.ValueOf(step.Key).Convert(value.Type().Key())
		if elem := value.MapIndex(key); elem.IsValid() {
			value.SetMapIndex(key, restoreEmpty(elem, path[1:]))
		}
	}
	return value
}

// MustDecodeKwargs decodes a blob created by EncodeKwargs, and panics if it is malformed.
func MustDecodeKwargs(blob []byte) Kwargs {
	kwargs, err := DecodeKwargs(blob)
	if err != nil {
		panic(err)
	}
	return kwargs
}

// BatchAxes returns the accumulated batch axes of each operand, stored under BatchAxesKey.
// It returns nil if the call is not batched.
func BatchAxes(kwargs Kwargs) [][]int {
	batchAxes, _ := kwargs[BatchAxesKey].([][]int)
	return batchAxes
}

// Int returns kwargs[key] as an int, or defaultValue if it is not set.
// It returns an error wrapping ErrMalformedKwargs if the value is not an int.
func (kwargs Kwargs) Int(key string, defaultValue int) (int, error) {
	v, found := kwargs[key]
	if !found {
		return defaultValue, nil
	}
	i, ok := v.(int)
	if !ok {
		return 0, errors.Wrapf(ErrMalformedKwargs, "kwarg %q is a %T, wanted an int", key, v)
	}
	return i, nil
}
