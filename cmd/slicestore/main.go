// Command slicestore dispatches actions to a counter store, runs dispatch
// scenarios and inspects dispatch traces.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/roach88/slicestore/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "slicestore:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
