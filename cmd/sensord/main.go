// Command sensord runs run status sensors over a local event log.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/henriblancke/dagster/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
