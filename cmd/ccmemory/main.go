package main

import (
	"os"

	"github.com/JoeyEamigh/ccmemory/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
