// File: cmd/uiprobe/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/uiprobe/cmd"
	"github.com/xkilldash9x/uiprobe/internal/observability"
)

// Function variables replaced in tests.
var (
	osExit  = os.Exit
	execute = cmd.Execute
)

func main() {
	osExit(run(os.Args[1:]))
}

// run executes the CLI and returns the process exit code. SIGINT and SIGTERM cancel the
// run context, which the harness observes between steps and between viewports.
func run(args []string) (code int) {
	defer func() {
		if r := recover(); r != nil {
			observability.Sync()
			fmt.Fprintf(os.Stderr, "panic: %v\n\n%s", r, debug.Stack())
			code = cmd.ExitFatal
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return cmd.ExitCode(execute(ctx, args))
}
