package log

import (
	"io"
	"os"
)

// ConsoleOutput writes formatted entries to stdout, or stderr for entries
// at WarnLevel or above, unless an explicit Writer is set.
type ConsoleOutput struct {
	Writer io.Writer
}

// NewConsoleOutput builds a ConsoleOutput that splits by level between
// stdout and stderr.
func NewConsoleOutput() *ConsoleOutput {
	return &ConsoleOutput{}
}

func (c *ConsoleOutput) Write(entry *Entry, formatted []byte) error {
	w := c.Writer
	if w == nil {
		if entry.Level >= WarnLevel {
			w = os.Stderr
		} else {
			w = os.Stdout
		}
	}
	_, err := w.Write(formatted)
	return err
}

func (c *ConsoleOutput) Close() error { return nil }

// FileOutput appends formatted entries to a file.
type FileOutput struct {
	f *os.File
}

// NewFileOutput opens (creating if necessary) path for appending.
func NewFileOutput(path string) (*FileOutput, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &FileOutput{f: f}, nil
}

func (o *FileOutput) Write(_ *Entry, formatted []byte) error {
	_, err := o.f.Write(formatted)
	return err
}

func (o *FileOutput) Close() error { return o.f.Close() }

// NullOutput discards every entry; useful for tests that only care about
// a Logger's side-effect-free return values.
type NullOutput struct{}

func (NullOutput) Write(*Entry, []byte) error { return nil }
func (NullOutput) Close() error               { return nil }
