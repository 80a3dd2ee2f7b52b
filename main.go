// Command ytarchive is the CLI entrypoint for the archival pipeline: a
// thin cobra shell over the scheduler, store, remote adapter and exporter
// packages under internal/.
package main

import (
	"fmt"
	"os"

	"github.com/onnwee/ytarchive/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cmd.ExitCode(err))
	}
}
