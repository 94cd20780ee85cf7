// Command scxmlrt is a small demo harness around engine.Registry: it runs one
// of a handful of built-in *model.Document machines to completion, since the
// SCXML XML parser itself is out of scope for this module (spec.md §1).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
