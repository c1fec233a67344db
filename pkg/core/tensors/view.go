// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/linop/pkg/core/shapes"
)

// View is a non-owning window over the storage of a Tensor, with its shape and dtype.
//
// Views are handed to host functions during graph execution: read-only views for the operands and
// mutable views for the pre-allocated outputs, which the host function fills in place.
// The owner of the tensor releases the view (see View.Release) once the host function returns, and any
// access after that panics: host functions must not retain views or the slices taken from them.
//
// Views are not locked: the owner guarantees nobody else changes the tensor while the view is live.
//
// Read-only is enforced only on the mutable accessors: Flat, Bytes and ViewFlat return the tensor's own
// storage, not a copy, so writing to them changes the tensor.
type View struct {
	shape    shapes.Shape
	flat     any
	readOnly bool
	released atomic.Bool
	written  atomic.Bool
}

// ReadOnlyView returns a read-only view of the tensor's storage.
func (t *Tensor) ReadOnlyView() *View {
	return t.newView(true)
}

// MutableView returns a mutable view of the tensor's storage.
func (t *Tensor) MutableView() *View {
	return t.newView(false)
}

func (t *Tensor) newView(readOnly bool) *View {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.AssertValid()
	return &View{shape: t.shape, flat: t.flat, readOnly: readOnly}
}

// Shape of the viewed tensor, including its DType.
func (v *View) Shape() shapes.Shape { return v.shape }

// DType of the viewed tensor.
func (v *View) DType() dtypes.DType { return v.shape.DType }

// Size is the number of elements of the view.
func (v *View) Size() int { return v.shape.Size() }

// IsReadOnly returns whether this is a read-only view.
func (v *View) IsReadOnly() bool { return v.readOnly }

// IsReleased returns whether the view has been released: no further access is allowed.
func (v *View) IsReleased() bool { return v.released.Load() }

// Written reports whether mutable access to the view's data was ever requested.
func (v *View) Written() bool { return v.written.Load() }

// Release invalidates the view. It is called by the owner of the tensor when the host function returns.
func (v *View) Release() {
	v.released.Store(true)
}

func (v *View) assertLive() {
	if v.released.Load() {
		exceptions.Panicf("view of shape %s accessed after it was released", v.shape)
	}
}

// Flat returns the flat data of the view, a slice of the Go type corresponding to the DType.
// It is the tensor's storage, not a copy: it must not be changed, use MutableFlat for that.
func (v *View) Flat() any {
	v.assertLive()
	return v.flat
}

// MutableFlat returns the flat data of the view for writing. It panics if the view is read-only.
func (v *View) MutableFlat() any {
	v.assertLive()
	if v.readOnly {
		exceptions.Panicf("view of shape %s is read-only, it cannot be written to", v.shape)
	}
	v.written.Store(true)
	return v.flat
}

// Bytes returns the view's data as bytes. They must not be changed.
func (v *View) Bytes() []byte {
	return flatAsBytes(v.Flat())
}

// MutableBytes returns the view's data as bytes for writing. It panics if the view is read-only.
func (v *View) MutableBytes() []byte {
	return flatAsBytes(v.MutableFlat())
}

// ViewFlat returns the view's flat data as a []T. It panics if T doesn't match the view's dtype.
// The slice is the tensor's storage and must not be changed.
func ViewFlat[T dtypes.Supported](v *View) []T {
	checkViewDType[T](v)
	return v.Flat().([]T)
}

// MutableViewFlat returns the view's flat data as a []T for writing.
// It panics if T doesn't match the view's dtype, or if the view is read-only.
func MutableViewFlat[T dtypes.Supported](v *View) []T {
	checkViewDType[T](v)
	return v.MutableFlat().([]T)
}

func checkViewDType[T dtypes.Supported](v *View) {
	if v.shape.DType != dtypes.FromGenericsType[T]() {
		var t T
		exceptions.Panicf("view access as %T is incompatible with its dtype %s", t, v.shape.DType)
	}
}
