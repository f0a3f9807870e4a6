package cli

import (
	"fmt"

	"github.com/harun/trackq/pkg/buffer"
	"github.com/harun/trackq/pkg/commandqueue"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate FILE...",
	Short: "Check call buffers without dispatching them",
	Long: `Check each call buffer against the descriptor schema and make sure every
descriptor names an operation. Exits non-zero if any buffer is invalid.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	failed := 0

	for _, path := range args {
		problems, count := validateBuffer(path)
		if len(problems) > 0 {
			failed++
			fmt.Fprintf(out, "FAIL %s\n", path)
			for _, p := range problems {
				fmt.Fprintf(out, "     %s\n", p)
			}
			continue
		}
		fmt.Fprintf(out, "ok   %s (%d calls)\n", path, count)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d buffers invalid", failed, len(args))
	}
	return nil
}

func validateBuffer(path string) ([]string, int) {
	calls, err := buffer.LoadFile(path)
	if err != nil {
		return []string{err.Error()}, 0
	}

	var problems []string
	for i, call := range calls {
		parsed, err := commandqueue.ParseCall(call)
		if err != nil {
			problems = append(problems, fmt.Sprintf("call %d: %v", i, err))
			continue
		}
		if parsed.Target.Kind == commandqueue.TargetNamed && parsed.Target.Operation == "" {
			problems = append(problems, fmt.Sprintf("call %d: %v: empty operation", i, commandqueue.ErrMalformedCall))
		}
	}
	return problems, len(calls)
}
