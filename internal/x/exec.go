// Package x runs shell-like command lines for tests, such as building modules for wasip1.
package x

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/davidmdm/ansi"
)

var cyan = ansi.MakeStyle(ansi.FgCyan)

type xoptions struct {
	Env    []string
	Dir    string
	Stdout io.Writer
}

type XOpt func(*xoptions)

// Env appends e to the environment of the current process.
func Env(e ...string) XOpt {
	return func(opts *xoptions) {
		opts.Env = append(opts.Env, e...)
	}
}

func Dir(d string) XOpt {
	return func(opts *xoptions) {
		opts.Dir = d
	}
}

// Stdout redirects the command's standard output, which defaults to os.Stdout.
func Stdout(w io.Writer) XOpt {
	return func(opts *xoptions) {
		opts.Stdout = w
	}
}

func X(line string, opts ...XOpt) error {
	return Xf(line, nil, opts...)
}

// Xf formats line with printArgs and runs it. Arguments are split on whitespace; quoting is not supported.
// On failure the error carries the command line and what the command wrote to stderr.
func Xf(line string, printArgs []any, opts ...XOpt) error {
	options := xoptions{Stdout: os.Stdout}
	for _, apply := range opts {
		apply(&options)
	}

	line = strings.TrimSpace(fmt.Sprintf(line, printArgs...))

	args := regexp.MustCompile(`\s+`).Split(line, -1)

	var stderr bytes.Buffer

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = options.Stdout
	cmd.Stderr = io.MultiWriter(os.Stderr, &stderr)
	cmd.Env = append(os.Environ(), options.Env...)
	cmd.Dir = options.Dir

	cyan.Println(line)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", line, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
