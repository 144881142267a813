package main

import (
	"fmt"
	"os"

	"github.com/park285/boardcam/internal/cli"
)

func main() {
	root := cli.Root()
	root.SetArgs(os.Args[1:])
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "boardcam:", err)
		os.Exit(1)
	}
}
