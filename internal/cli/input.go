package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/term"
)

// Test seams for the terminal. Replace them in tests to avoid touching a tty.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

// TerminalPrompter reads answers line by line from in and writes prompts to
// out. Secrets are read without echo when fd is a terminal.
type TerminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
}

// NewTerminalPrompter creates a prompter. fd is the file descriptor backing
// in, used for no-echo password entry.
func NewTerminalPrompter(in io.Reader, out io.Writer, fd int) *TerminalPrompter {
	return &TerminalPrompter{
		in:  bufio.NewReader(in),
		out: out,
		fd:  fd,
	}
}

// Ask prints label and returns the trimmed line the user typed. If EOF occurs
// after some input was read, the partial line is returned.
func (p *TerminalPrompter) Ask(ctx context.Context, label string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := fmt.Fprint(p.out, label+": "); err != nil {
		return "", err
	}
	return p.readLine()
}

// AskSecret is like Ask but does not echo input on a terminal.
func (p *TerminalPrompter) AskSecret(ctx context.Context, label string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := fmt.Fprint(p.out, label+": "); err != nil {
		return "", err
	}
	if !isTerminal(p.fd) {
		return p.readLine()
	}

	secret, err := readPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return string(secret), nil
}

// Confirm asks a yes/no question until it gets a recognizable answer.
// An empty answer means no.
func (p *TerminalPrompter) Confirm(ctx context.Context, label string) (bool, error) {
	for {
		answer, err := p.Ask(ctx, label+" (y/n)")
		if err != nil {
			return false, err
		}
		switch strings.ToLower(answer) {
		case "y", "yes":
			return true, nil
		case "n", "no", "":
			return false, nil
		}
		p.Warn("Please answer y or n.")
	}
}

func (p *TerminalPrompter) Info(msg string) {
	fmt.Fprintln(p.out, msg)
}

func (p *TerminalPrompter) Warn(msg string) {
	fmt.Fprintln(p.out, "! "+msg)
}

func (p *TerminalPrompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}
