// Package evadts reads EVA-DTS audit files into the ordered line
// sequence a DEX session transmits.
//
// Lines are opaque payload to the protocol core: no field interpretation
// happens here. Line endings are stripped on read; the session appends
// the protocol's CRLF terminator when framing.
package evadts

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// maxLineSize bounds a single audit line. EVA-DTS lines are short; the
// limit only guards against reading a non-text file by mistake.
const maxLineSize = 1 << 20

// ErrEmpty reports an audit file with no lines; a transfer needs at
// least one block to carry the final-block terminator.
var ErrEmpty = errors.New("evadts: audit file contains no lines")

// ReadLines reads the audit file at path into its ordered line sequence.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("evadts: %w", err)
	}
	defer f.Close()

	lines, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("evadts: read %s: %w", path, err)
	}

	return lines, nil
}

// Read reads an audit file from r into its ordered line sequence,
// stripping CR and LF line endings.
func Read(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var lines []string
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}

	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrEmpty
	}

	return lines, nil
}
