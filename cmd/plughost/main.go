package main

import (
	"os"

	"github.com/dshills/plughost/cmd/plughost/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
