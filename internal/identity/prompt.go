package identity

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
)

// Prompt asks for a player id until one validates. initial, when set, is
// tried first without prompting. Format and unknown-player failures are
// reported on out and the user is asked again; any other failure, or the
// end of input, ends the prompt with an error.
func Prompt(ctx context.Context, g *Gate, in io.Reader, out io.Writer, initial string) (string, error) {
	if initial != "" {
		id, err := g.Validate(ctx, initial)
		if err == nil {
			return id, nil
		}
		if !retryable(err) {
			return "", err
		}
		fmt.Fprintf(out, "%v\n", err)
	}

	scanner := bufio.NewScanner(in)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		fmt.Fprint(out, "Player ID: ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", fmt.Errorf("failed to read player id: %w", err)
			}
			return "", fmt.Errorf("no player id entered: %w", io.EOF)
		}

		id, err := g.Validate(ctx, scanner.Text())
		if err == nil {
			return id, nil
		}
		if !retryable(err) {
			return "", err
		}
		fmt.Fprintf(out, "%v\n", err)
	}
}

func retryable(err error) bool {
	return errors.Is(err, ErrInvalidFormat) || errors.Is(err, ErrUnknownPlayer)
}
