package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/foomo/templatestore/pkg/storage"
	"github.com/pkg/errors"
)

type (
	// Picker asks the user for a directory to store templates in. A dismissed
	// request returns storage.ErrUserDeclined.
	Picker interface {
		PickDirectory(ctx context.Context) (string, error)
	}
	// PickerFunc adapts a function to Picker
	PickerFunc func(ctx context.Context) (string, error)
	// StaticPicker grants a fixed, preconfigured directory
	StaticPicker string
	// PromptPicker reads the directory from an interactive terminal
	PromptPicker struct {
		In  io.Reader
		Out io.Writer
	}
)

func (f PickerFunc) PickDirectory(ctx context.Context) (string, error) {
	return f(ctx)
}

func (p StaticPicker) PickDirectory(ctx context.Context) (string, error) {
	if p == "" {
		return "", storage.ErrUserDeclined
	}
	return string(p), nil
}

// PickDirectory prompts once. An empty answer, EOF and a cancelled context
// all count as a declined request.
func (p PromptPicker) PickDirectory(ctx context.Context) (string, error) {
	if _, err := fmt.Fprint(p.Out, "Directory to store templates in (leave empty to cancel): "); err != nil {
		return "", errors.Wrap(err, "failed to write prompt")
	}
	type answer struct {
		line string
		err  error
	}
	answers := make(chan answer, 1)
	go func() {
		line, err := bufio.NewReader(p.In).ReadString('\n')
		answers <- answer{line: line, err: err}
	}()
	select {
	case <-ctx.Done():
		return "", errors.Wrap(storage.ErrUserDeclined, ctx.Err().Error())
	case a := <-answers:
		if a.err != nil && !errors.Is(a.err, io.EOF) {
			return "", errors.Wrap(a.err, "failed to read directory")
		}
		dir := strings.TrimSpace(a.line)
		if dir == "" {
			return "", storage.ErrUserDeclined
		}
		return dir, nil
	}
}
