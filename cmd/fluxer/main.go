package main

import (
	"os"

	"github.com/fatih/color"

	"github.com/chrisboulton/fluxer-go/internal/cmd"
)

// Version information set via ldflags during build
var version = "dev"

func main() {
	if err := cmd.NewRootCmd(version).Execute(); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}
