// Contentgraph - content graph, validation and packaging tooling for
// security content repositories.
//
// Contentgraph parses a content repository into a typed dependency graph,
// validates items against it, lints and unifies packages and serves the
// graph to MCP clients.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/Benny93/contentgraph/cmd"
)

func main() {
	cli := cmd.NewCLI()

	if err := cli.Execute(os.Args[1:]); err != nil {
		var exit *cmd.ExitError
		if errors.As(err, &exit) {
			if exit.Err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", exit.Err)
			}
			os.Exit(exit.Code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
}
