// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// segcat loads files as segments of a container read index, merges them into
// the first one and prints a byte range of the result.
//
// Usage:
//
//	segcat [flags] <file>...
//
// Each file becomes one segment. The leading --flushed fraction of it is
// written to the in-memory storage tier, the rest is appended as tail data in
// --chunk sized pieces. All files after the first are then merged into the
// first one, and the requested range is read back through the index.
//
// The output is a hex dump when stdout is a terminal, raw bytes otherwise,
// or written atomically to --out.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dacapoday/readindex"
	"github.com/dacapoday/readindex/buffer"
	"github.com/dacapoday/readindex/container"
	"github.com/dacapoday/readindex/mem"
	"github.com/dacapoday/readindex/metadata"
	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"
)

type options struct {
	config  string
	flushed float64
	chunk   int
	offset  int64
	length  int
	timeout time.Duration
	out     string
	verbose bool
}

func main() {
	var opts options
	flag.StringVarP(&opts.config, "config", "c", "", "read index config file (JSON with comments)")
	flag.Float64Var(&opts.flushed, "flushed", 0.5, "fraction of each file written to storage before tail appends")
	flag.IntVar(&opts.chunk, "chunk", 4096, "tail append size")
	flag.Int64VarP(&opts.offset, "offset", "o", 0, "read offset in the merged segment")
	flag.IntVarP(&opts.length, "length", "n", -1, "bytes to read (-1 = to the end)")
	flag.DurationVar(&opts.timeout, "timeout", time.Second, "read timeout")
	flag.StringVar(&opts.out, "out", "", "write the result to this file instead of stdout")
	flag.BoolVarP(&opts.verbose, "verbose", "v", false, "log index activity to stderr")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: segcat [flags] <file>...")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(context.Background(), opts, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, files []string) error {
	if opts.flushed < 0 || opts.flushed > 1 {
		return fmt.Errorf("--flushed must be within [0, 1], got %g", opts.flushed)
	}
	if opts.chunk <= 0 {
		return fmt.Errorf("--chunk must be positive, got %d", opts.chunk)
	}

	cfg := readindex.DefaultConfig()
	if opts.config != "" {
		var err error
		if cfg, err = readindex.LoadConfig(opts.config); err != nil {
			return err
		}
	}
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	l := &loader{
		meta:    new(metadata.Collection),
		storage: new(mem.Storage),
		pool:    buffer.NewPool(opts.chunk),
		chunk:   opts.chunk,
		flushed: opts.flushed,
		log:     log,
	}
	index, err := container.New(l.meta, container.Options{Config: cfg, Storage: l.storage, Logger: log})
	if err != nil {
		return err
	}
	defer index.Close()
	l.index = index

	for i, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		if err := l.load(int64(i+1), filepath.Base(file), data); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	if err := l.mergeAll(int64(len(files))); err != nil {
		return err
	}

	target, _ := l.meta.Get(1)
	length := opts.length
	if length < 0 {
		length = int(max(target.Length()-opts.offset, 0))
	}
	result, err := index.Read(1, opts.offset, length, opts.timeout)
	if err != nil {
		return err
	}
	view, err := result.ReadAll(ctx)
	if err != nil {
		return err
	}
	defer view.Release()
	return output(opts.out, view)
}

func output(path string, view buffer.View) error {
	if path != "" {
		return atomic.WriteFile(path, view.Reader())
	}
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		_, err := view.WriteTo(os.Stdout)
		return err
	}
	width, _, err := term.GetSize(fd)
	if err != nil {
		width = 80
	}
	return dump(os.Stdout, view, width)
}

// loader feeds file contents into the index the way a write path would:
// storage first, then the log tail.
type loader struct {
	index   *container.ReadIndex
	meta    *metadata.Collection
	storage *mem.Storage
	pool    *buffer.Pool
	chunk   int
	flushed float64
	log     *slog.Logger

	contents map[int64][]byte
}

func (l *loader) load(id int64, name string, data []byte) error {
	name = fmt.Sprintf("%d-%s", id, name)
	m, err := l.meta.Add(id, name)
	if err != nil {
		return err
	}
	if err := l.storage.Create(name); err != nil {
		return err
	}
	if l.contents == nil {
		l.contents = make(map[int64][]byte)
	}
	l.contents[id] = data

	flushed := int(float64(len(data)) * l.flushed)
	if err := l.storage.Write(name, 0, data[:flushed]); err != nil {
		return err
	}
	m.SetLength(int64(flushed))
	m.SetStorageLength(int64(flushed))

	for off := flushed; off < len(data); off += l.chunk {
		n := min(l.chunk, len(data)-off)
		ref := l.pool.Get(n)
		copy(ref.Bytes(), data[off:off+n])
		m.SetLength(int64(off + n))
		err := l.index.Append(id, int64(off), ref)
		ref.Release()
		if err != nil {
			return err
		}
	}
	l.log.Debug("loaded segment", "segment", id, "length", len(data), "flushed", flushed)
	return nil
}

// mergeAll merges segments 2..last into segment 1, in order.
func (l *loader) mergeAll(last int64) error {
	target, ok := l.meta.Get(1)
	if !ok {
		return errors.New("no target segment")
	}
	if last < 2 {
		target.Seal()
		return nil
	}
	if err := l.flush(target); err != nil {
		return err
	}

	for id := int64(2); id <= last; id++ {
		source, _ := l.meta.Get(id)
		source.Seal()
		offset := target.Length()
		target.SetLength(offset + source.Length())
		if err := l.index.BeginMerge(1, offset, id, source.Length()); err != nil {
			return err
		}
		if err := l.flush(source); err != nil {
			return err
		}
		if err := l.storage.Concat(target.Name(), source.Name()); err != nil {
			return err
		}
		target.SetStorageLength(target.Length())
		if err := l.index.CompleteMerge(1, id); err != nil {
			return err
		}
		source.MarkMerged()
		source.MarkDeleted()
		l.log.Debug("merged segment", "source", id, "offset", offset)
	}
	target.Seal()

	if _, err := l.index.PerformGarbageCollection(); err != nil {
		return err
	}
	return l.index.TriggerFutureReads([]int64{1})
}

// flush writes the unflushed part of a segment to storage.
func (l *loader) flush(m *metadata.Segment) error {
	data := l.contents[m.ID()]
	off := m.StorageLength()
	if err := l.storage.Write(m.Name(), off, data[off:]); err != nil {
		return err
	}
	m.SetStorageLength(int64(len(data)))
	return nil
}
