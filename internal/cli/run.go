package cli

import "context"

// Run parses argv (excluding argv[0]) into a CLIInvocation and executes it,
// returning the semantic exit code alongside any error. It is the single
// entrypoint cmd/warp and black-box tests both drive, so parsing and
// execution can never drift apart between the two.
func Run(ctx context.Context, args []string) (CLIResult, error) {
	inv, err := ParseInvocation(args)
	if err != nil {
		return CLIResult{ExitCode: ExitCode(err)}, err
	}
	return Execute(ctx, inv)
}
