// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// ReadFromPath reads a secret from a file path, or from stdin if path
// is "-". Surrounding whitespace is trimmed. An empty secret is an
// error.
func ReadFromPath(path string) (*Buffer, error) {
	if path == "-" {
		return readLine(os.Stdin)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return fromTrimmed(data)
}

// readLine reads the first line of r.
func readLine(r io.Reader) (*Buffer, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return nil, fmt.Errorf("stdin is empty")
	}
	return fromTrimmed(scanner.Bytes())
}

func fromTrimmed(data []byte) (*Buffer, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		Zero(data)
		return nil, fmt.Errorf("secret is empty")
	}

	buffer, err := NewFromBytes(trimmed)
	// trimmed is already zero; clear the whitespace around it.
	Zero(data)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}

// Prompt writes prompt to out and reads a line from terminal with echo
// disabled. If terminal is not a terminal, the line is read as-is,
// which lets scripts pipe a password in.
func Prompt(terminal *os.File, out io.Writer, prompt string) (*Buffer, error) {
	fd := int(terminal.Fd())
	if !term.IsTerminal(fd) {
		return readLine(terminal)
	}

	fmt.Fprint(out, prompt)
	data, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	return fromTrimmed(data)
}
