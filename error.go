// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package readindex

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Error kinds. Every error returned by this module matches exactly one of
// these with errors.Is.
var (
	ErrClosed          = errors.New("closed")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidState    = errors.New("invalid state")
	ErrTimeout         = errors.New("timeout")
)

var (
	ErrOutOfRange       = kind(ErrInvalidArgument, "out of range")
	ErrBadOffset        = kind(ErrInvalidArgument, "bad offset")
	ErrSegmentNotFound  = kind(ErrInvalidArgument, "segment not found")
	ErrSegmentMerged    = kind(ErrInvalidArgument, "segment merged")
	ErrSegmentNotSealed = kind(ErrInvalidArgument, "segment not sealed")
	ErrNilMetadata      = kind(ErrInvalidArgument, "nil metadata")
	ErrMergeNotFound    = kind(ErrInvalidArgument, "merge not found")
	ErrMetadataMismatch = kind(ErrInvalidArgument, "metadata mismatch")
	ErrRecovering       = kind(ErrInvalidState, "in recovery mode")
	ErrNotRecovering    = kind(ErrInvalidState, "not in recovery mode")
	ErrMergeIncomplete  = kind(ErrInvalidState, "merge incomplete")
	ErrReadPending      = kind(ErrInvalidState, "read entry pending")
	ErrEntryConsumed    = kind(ErrInvalidState, "read entry consumed")
)

type kindError struct {
	msg  string
	kind error
}

func kind(k error, msg string) error {
	return &kindError{msg, k}
}

func (e *kindError) Error() string {
	return e.msg
}

func (e *kindError) Unwrap() error {
	return e.kind
}

// MissingSegmentsError reports every segment id that was neither loaded nor
// known to the metadata. It matches ErrSegmentNotFound.
type MissingSegmentsError struct {
	IDs []int64
}

func (e *MissingSegmentsError) Error() string {
	ids := slices.Clone(e.IDs)
	slices.Sort(ids)
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = strconv.FormatInt(id, 10)
	}
	return fmt.Sprintf("segments not found in metadata: %s", strings.Join(s, ", "))
}

func (e *MissingSegmentsError) Unwrap() error {
	return ErrSegmentNotFound
}
