// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package readindex defines the contracts shared by the components of a
// segment read index: the metadata source that owns segment state and the
// storage tier that holds flushed segment data.
//
// The read index itself lives in subpackages:
//
//	buffer     – zero-copy views over (possibly ref-counted) memory
//	segment    – read index for a single segment
//	container  – registry of segment indices for a whole container
//	metadata   – in-memory metadata collection
//	mem        – in-memory storage tier
package readindex

import "context"

// SegmentMetadata is a read-only view of the authoritative state of a segment.
//
// Length is the number of bytes durably accepted for the segment (the log
// tail included). StorageLength is the prefix of that range already flushed
// to the storage tier, so StorageLength() <= Length() always holds.
type SegmentMetadata interface {
	ID() int64
	Name() string
	Length() int64
	StorageLength() int64
	IsSealed() bool
	IsDeleted() bool
	IsMerged() bool
}

// Metadata resolves segment ids to their metadata.
// The second return value is false if the segment is unknown.
type Metadata interface {
	GetStreamSegmentMetadata(id int64) (SegmentMetadata, bool)
}

// Storage provides read access to the storage tier.
//
// Read reads up to len(p) bytes of the named segment starting at offset.
// It returns the number of bytes read; n < len(p) only together with a
// non-nil error (io.EOF when the segment ends before p is filled).
type Storage interface {
	Read(ctx context.Context, segment string, offset int64, p []byte) (n int, err error)
}
