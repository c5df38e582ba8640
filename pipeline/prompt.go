package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
)

// ConfirmMessage is shown before the engine is torn down.
const ConfirmMessage = "Press Enter to close MATLAB and exit."

// Prompter blocks until the operator acknowledges.
type Prompter interface {
	Confirm(ctx context.Context, message string) error
}

// LinePrompter writes the message to Out and waits for a line on In.
// End of input counts as acknowledgement.
type LinePrompter struct {
	In  io.Reader
	Out io.Writer
}

// Confirm implements Prompter.
func (p LinePrompter) Confirm(ctx context.Context, message string) error {
	fmt.Fprintf(p.Out, "\n%s", message)
	done := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(p.In).ReadString('\n')
		if err == io.EOF {
			err = nil
		}
		done <- err
	}()
	select {
	case err := <-done:
		fmt.Fprintln(p.Out)
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NoPrompt returns immediately.
type NoPrompt struct{}

// Confirm implements Prompter.
func (NoPrompt) Confirm(context.Context, string) error { return nil }
