// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package linop

import "github.com/pkg/errors"

// Errors returned (or raised, at graph building time) by the package. Use errors.Is to match them:
// the returned errors wrap them with more context.
var (
	// ErrContractViolation is returned when a callback breaks its contract with the operation: outputs
	// not written, a transpose returning the wrong number of values, an unknown token, etc.
	ErrContractViolation = errors.New("linop: contract violation")

	// ErrUnsupportedBatching is returned when an operation is asked to batch in a way it doesn't support.
	ErrUnsupportedBatching = errors.New("linop: unsupported batching")

	// ErrMalformedKwargs is returned when decoding a corrupted or incompatible kwargs blob.
	ErrMalformedKwargs = errors.New("linop: malformed kwargs")

	// ErrUnknownToken is returned when looking up a token that is not (or no longer) registered.
	// It is also an ErrContractViolation.
	ErrUnknownToken = errors.WithMessage(ErrContractViolation, "unknown operation token")
)
