package main

import (
	"context"
	"fmt"
	"os"

	"tg-audio-transcriber/internal/cli"
)

func main() {
	err := cli.NewRootCmd().ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "transcriber:", err)
	}
	os.Exit(cli.ExitCode(err))
}
