// Command execwatch tracks a multi-agent execution, reconciles its live and
// stored state and gates tool calls behind human approval.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
