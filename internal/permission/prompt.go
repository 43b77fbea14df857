package permission

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// TerminalPrompter asks on a terminal. It refuses without asking when
// input is not interactive.
type TerminalPrompter struct {
	in  io.Reader
	out io.Writer
	tty func() bool
}

// NewTerminalPrompter prompts on stdin/stderr.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{
		in:  os.Stdin,
		out: os.Stderr,
		tty: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
	}
}

func (p *TerminalPrompter) Confirm(ctx context.Context, origin string) (bool, error) {
	if p.tty != nil && !p.tty() {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, _ = fmt.Fprintf(p.out, "Allow cookiejar to write cookies for %s? [y/N] ", origin)

	line, err := bufio.NewReader(p.in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
