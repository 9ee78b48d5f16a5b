package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/cli"

	"github.com/modelgate/modelgate/command"
	"github.com/modelgate/modelgate/version"
)

func main() {
	os.Exit(Run(os.Args[1:]))
}

func Run(args []string) int {
	// shortcut version so "modelgate -v" works like "modelgate version"
	for _, arg := range args {
		if arg == "-v" || arg == "-version" || arg == "--version" {
			args = []string{"version"}
			break
		}
	}

	c := cli.NewCLI("modelgate", version.GetVersion().VersionNumber())
	c.Args = args
	c.Commands = command.Commands(nil)

	exitCode, err := c.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing CLI: %s\n", err.Error())
		return 1
	}
	return exitCode
}
