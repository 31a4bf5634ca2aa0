package main

import (
	"os"

	"parley/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
