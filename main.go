// The main package for the hningest executable.
package main

import (
	"github.com/newsdeck/hn-ingest/cmd"
)

func main() {
	cmd.Execute()
}
