// Command backendctl is a CLI client for the backendpool admin surface
// exposed by modelrunnerd: add/edit/delete/list/reload/status.
package main

import (
	"fmt"
	"os"

	"github.com/dockermodel/backendpool/cmd/backendctl/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
