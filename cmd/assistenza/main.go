// Command assistenza runs the Richiesta Assistenza API server and its
// maintenance tasks.
package main

import (
	"os"
)

func main() {
	if err := execute(); err != nil {
		os.Exit(1)
	}
}
