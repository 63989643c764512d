// Package main implements the ojs CLI.
// It compiles Observable notebooks into JavaScript modules and inspects
// their cells and dependencies.
package main

import (
	"os"

	"github.com/l3aro/go-ojs/cmd/ojs/commands"
)

var version = "dev"

func main() {
	commands.RootCmd.Version = version
	commands.RootCmd.SetVersionTemplate(`ojs version {{.Version}}
`)

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
