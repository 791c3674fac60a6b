package command

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/term"
)

// SecretReader reads secrets line by line, without echo when its input is a
// terminal.
type SecretReader struct {
	fd  int
	tty bool
	buf *bufio.Reader
	out io.Writer
}

// NewSecretReader reads from in and prompts on out.
func NewSecretReader(in io.Reader, out io.Writer) *SecretReader {
	r := &SecretReader{buf: bufio.NewReader(in), out: out}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) { //nolint:gosec // fd fits in int
		r.fd, r.tty = int(f.Fd()), true //nolint:gosec // fd fits in int
	}
	return r
}

// Read prompts and returns the next line.
func (r *SecretReader) Read(prompt string) (string, error) {
	if r.tty {
		fmt.Fprint(r.out, prompt)
		b, err := term.ReadPassword(r.fd)
		fmt.Fprintln(r.out)
		if err != nil {
			return "", errors.Wrap(err, "failed to read from terminal")
		}
		return string(b), nil
	}

	line, err := r.buf.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", errors.Wrap(err, "failed to read input")
	}
	if err != nil && line == "" {
		return "", errors.New("unexpected end of input")
	}
	return strings.TrimRight(line, "\r\n"), nil
}
