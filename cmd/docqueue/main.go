// Command docqueue pushes, inspects and works document-store job queues.
package main

import (
	"os"

	"github.com/mhpenta/docqueue/cmd/docqueue/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
