// Command nbexec runs the notebook cell execution gateway and its CLI tools.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"nbexec/internal/cli"
	"nbexec/pkg/logger"
)

func main() {
	rootCmd := cli.NewRootCmd()

	err := rootCmd.ExecuteContext(context.Background())
	_ = logger.Close()
	if err != nil {
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.ExitCode(err))
	}
}
