// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

// NodeType is the type of operation performed by a Node.
type NodeType int

const (
	NodeTypeInvalid NodeType = iota
	NodeTypeParameter
	NodeTypeConstant
	NodeTypeSplitNode
	NodeTypeAdd
	NodeTypeSub
	NodeTypeMul
	NodeTypeNeg
	NodeTypeReduceSum
	NodeTypeExpandAndBroadcast
	NodeTypeTranspose
	NodeTypeTakeAt
	NodeTypeStack
	NodeTypeCustomCall
)
