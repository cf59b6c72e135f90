// The main package for the docharvester executable.
package main

import (
	"github.com/canary-data/docharvester/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
