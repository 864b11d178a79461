// Command atelier is the Atelier CLI.
package main

import (
	"fmt"
	"os"

	"github.com/atelier-chat/atelier/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
