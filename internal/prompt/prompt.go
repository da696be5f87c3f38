// Package prompt reads single answers from the operator's terminal.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrNoInput is returned when the input ends before a line is read.
var ErrNoInput = errors.New("no input")

// ErrInvalidPhone is returned for an answer without any digit.
var ErrInvalidPhone = errors.New("phone number must contain digits")

// Prompter asks questions on Out and reads the answers from In.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
}

// New returns a Prompter reading from in and writing to out.
func New(in io.Reader, out io.Writer) *Prompter {
	p := &Prompter{in: bufio.NewReader(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok {
		p.fd = int(f.Fd())
	}
	return p
}

// Stdio returns a Prompter bound to the process stdin and stdout.
func Stdio() *Prompter { return New(os.Stdin, os.Stdout) }

// Interactive reports whether the input is a terminal.
func (p *Prompter) Interactive() bool {
	return p.fd >= 0 && term.IsTerminal(p.fd)
}

// Ask prints question and returns the next input line, trimmed. It
// returns ctx.Err() if ctx ends first; the pending read is abandoned.
func (p *Prompter) Ask(ctx context.Context, question string) (string, error) {
	fmt.Fprintln(p.out, question)

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		if errors.Is(err, io.EOF) && line != "" {
			err = nil
		}
		ch <- answer{strings.TrimSpace(line), err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case a := <-ch:
		if errors.Is(a.err, io.EOF) {
			return "", ErrNoInput
		}
		return a.line, a.err
	}
}

// PhoneNumber asks for the phone number to link and returns its digits,
// dropping "+", spaces, dashes and brackets.
func (p *Prompter) PhoneNumber(ctx context.Context) (string, error) {
	line, err := p.Ask(ctx, "Please enter your phone number:")
	if err != nil {
		return "", err
	}
	phone := NormalizePhone(line)
	if phone == "" {
		return "", ErrInvalidPhone
	}
	return phone, nil
}

// NormalizePhone keeps only the ASCII digits of s.
func NormalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
