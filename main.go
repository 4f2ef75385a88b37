// The main package for the crawld executable.
package main

import (
	"github.com/geekcrawl/crawld/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
