package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrEmptySecret is returned when no secret was entered.
var ErrEmptySecret = errors.New("empty secret")

// ReadSecret reads a secret from in. When in is a terminal the prompt is
// written to out and the input is not echoed; otherwise all of in is read
// and one trailing newline is dropped.
func ReadSecret(in *os.File, out io.Writer, prompt string) ([]byte, error) {
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(out, prompt)
		secret, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return nil, fmt.Errorf("read secret: %w", err)
		}
		if len(secret) == 0 {
			return nil, ErrEmptySecret
		}
		return secret, nil
	}
	return readPiped(in)
}

func readPiped(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("read secret: %w", err)
	}
	s := strings.TrimSuffix(string(data), "\n")
	s = strings.TrimSuffix(s, "\r")
	if s == "" {
		return nil, ErrEmptySecret
	}
	return []byte(s), nil
}
