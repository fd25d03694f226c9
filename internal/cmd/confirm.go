package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/manifoldco/promptui"
	"golang.org/x/term"

	"ghconf/pkg/reconcile"
)

// errNotInteractive is returned when confirmation is needed but nobody can answer
var errNotInteractive = errors.New("refusing to execute without confirmation: stdin is not a terminal, use --execute to apply the plan")

// promptConfirmer asks on the terminal before a plan is executed
type promptConfirmer struct {
	stdin  io.ReadCloser
	stdout io.WriteCloser

	// interactive reports whether a user can answer the prompt
	interactive func() bool
}

// newPromptConfirmer prompts on stdin and out, which must both be terminals
func newPromptConfirmer(out *os.File) *promptConfirmer {
	return &promptConfirmer{
		stdin:  os.Stdin,
		stdout: out,
		interactive: func() bool {
			return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(out.Fd()))
		},
	}
}

// Confirm implements reconcile.Confirmer
func (c *promptConfirmer) Confirm(_ context.Context, cs *reconcile.ChangeSet) (bool, error) {
	if !c.interactive() {
		return false, errNotInteractive
	}

	prompt := promptui.Prompt{
		Label:     fmt.Sprintf("Proceed and execute %d change(s)", cs.Len()),
		IsConfirm: true,
		Stdin:     c.stdin,
		Stdout:    c.stdout,
	}

	if _, err := prompt.Run(); err != nil {
		// "n", ctrl-c and ctrl-d all decline
		if errors.Is(err, promptui.ErrAbort) || errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
			return false, nil
		}
		return false, fmt.Errorf("confirmation prompt: %w", err)
	}
	return true, nil
}
