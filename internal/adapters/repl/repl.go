package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"inventory-ledger/internal/adapters/cli"
	"inventory-ledger/internal/app"
)

var errExit = errors.New("exit")

const help = `Interactive commands:
  /receive    post a receipt into a bin
  /ship       ship stock out of a bin
  /transfer   move stock between bins
  /adjust     post a signed adjustment
  /help       show this help
  /exit       leave the shell

Every other slash command runs the matching CLI command, e.g. /levels --below-reorder.`

// Run starts the interactive shell. It returns nil on /exit or end of input.
func Run(ctx context.Context, svc app.ApplicationService, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "Inventory Ledger")
	fmt.Fprintln(out, "Type /help for commands.")
	fmt.Fprintln(out, strings.Repeat("-", 70))

	dispatch := func(input string) error {
		tokens := strings.Fields(strings.TrimPrefix(input, "/"))
		if len(tokens) == 0 {
			return nil
		}
		p := &prompter{reader: reader, out: out}
		switch strings.ToLower(tokens[0]) {
		case "help", "h":
			fmt.Fprintln(out, help)
			return nil
		case "exit", "quit", "q":
			return errExit
		case "receive":
			return receiveWizard(ctx, p, svc)
		case "ship":
			return shipWizard(ctx, p, svc)
		case "transfer":
			return transferWizard(ctx, p, svc)
		case "adjust":
			return adjustWizard(ctx, p, svc)
		default:
			return cli.Run(ctx, svc, tokens, out)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		fmt.Fprint(out, "\n> ")
		input, err := reader.ReadString('\n')
		input = strings.TrimSpace(input)
		if input != "" {
			if !strings.HasPrefix(input, "/") {
				fmt.Fprintln(out, "Commands start with '/'. Type /help for the list.")
			} else if dErr := dispatch(input); dErr != nil {
				if errors.Is(dErr, errExit) {
					fmt.Fprintln(out, "Goodbye!")
					return nil
				}
				fmt.Fprintf(out, "Error: %v\n", dErr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}
	}
}
