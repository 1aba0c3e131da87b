package main

import (
	"os"

	"dockwatch.sh/cmd/dockwatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
