package main

import (
	"os"

	"github.com/odyssey-erp/identity/cmd/identity/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
