// Command localstored manages the Focusloop local data store: schema
// migration, sync with the remote service, and the background sync daemon.
package main

import (
	"fmt"
	"os"

	"github.com/focusloop/localstore/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
