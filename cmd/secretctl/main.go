package main

import (
	"os"

	"secretinvest/cmd/secretctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
