// Command parlapi serves and maintains the parliament data API.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/parlapi/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		// Commands report their own errors; anything else (flag parsing,
		// unknown commands) is printed here.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
