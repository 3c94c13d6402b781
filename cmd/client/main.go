// Command client stores, reads and removes striped credentials, either
// directly in a local backend or through a stripekeeper server.
package main

import (
	"fmt"
	"os"
)

var (
	version   string
	buildDate string
)

func main() {
	cmd := newRootCmd(os.Stdin, os.Stdout, os.Stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorColor.Sprint("error: "), err)
		os.Exit(1)
	}
}
