// The main package for the newsingest executable.
package main

import (
	"github.com/omu-rag/newsingest/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
