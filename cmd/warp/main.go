package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"warp/internal/cli"
)

// main is a deterministic boundary: argv never touches engine logic
// directly, it is canonicalized into a CLIInvocation (by cli.Run, shared
// with this binary's black-box tests) first.
func main() {
	result, err := cli.Run(context.Background(), os.Args[1:])
	if err != nil {
		var invErr *cli.InvocationError
		if errors.As(err, &invErr) {
			fmt.Fprintln(os.Stderr, invErr.Message)
			os.Exit(invErr.ExitCode)
		}
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(result.ExitCode)
}