// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package segment

import "github.com/dacapoday/readindex"

var (
	ErrClosed           = readindex.ErrClosed
	ErrTimeout          = readindex.ErrTimeout
	ErrOutOfRange       = readindex.ErrOutOfRange
	ErrBadOffset        = readindex.ErrBadOffset
	ErrSegmentMerged    = readindex.ErrSegmentMerged
	ErrSegmentNotSealed = readindex.ErrSegmentNotSealed
	ErrNilMetadata      = readindex.ErrNilMetadata
	ErrMergeNotFound    = readindex.ErrMergeNotFound
	ErrMergeIncomplete  = readindex.ErrMergeIncomplete
	ErrMetadataMismatch = readindex.ErrMetadataMismatch
	ErrRecovering       = readindex.ErrRecovering
	ErrNotRecovering    = readindex.ErrNotRecovering
	ErrReadPending      = readindex.ErrReadPending
	ErrEntryConsumed    = readindex.ErrEntryConsumed
)
