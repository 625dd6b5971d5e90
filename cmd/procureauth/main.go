package main

import (
	"os"

	"github.com/porthorian/procureauth/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
