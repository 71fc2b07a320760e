// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/dacapoday/readindex/buffer"
)

// dump writes view as a hex dump: offset, hex bytes and printable text.
// Rows hold 16 bytes, or 8 if that does not fit in width columns.
func dump(w io.Writer, view buffer.View, width int) error {
	perRow := 16
	if width < rowWidth(16) {
		perRow = 8
	}

	bw := bufio.NewWriter(w)
	r := view.Reader()
	row := make([]byte, perRow)
	var off int64
	for {
		n := r.ReadBytes(row)
		if n == 0 {
			break
		}
		writeRow(bw, off, row[:n], perRow)
		off += int64(n)
	}
	fmt.Fprintf(bw, "%08x\n", off)
	return bw.Flush()
}

// rowWidth is the number of columns a row of n bytes takes.
func rowWidth(n int) int {
	return 8 + 2 + 3*n + 1 + n + 2
}

func writeRow(w *bufio.Writer, off int64, p []byte, perRow int) {
	fmt.Fprintf(w, "%08x  ", off)
	for i := range perRow {
		if i < len(p) {
			fmt.Fprintf(w, "%02x ", p[i])
		} else {
			w.WriteString("   ")
		}
	}
	w.WriteString(" |")
	w.WriteString(display(p))
	w.WriteString("|\n")
}

// display renders bytes as text, replacing anything unprintable with '.'.
func display(p []byte) string {
	var b strings.Builder
	for _, c := range p {
		if isPrintable(c) {
			b.WriteByte(c)
		} else {
			b.WriteByte('.')
		}
	}
	return b.String()
}

func isPrintable(c byte) bool {
	return c >= 0x20 && c < 0x7f
}
