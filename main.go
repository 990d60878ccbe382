package main

import (
	"os"

	"wildlife-challenge-system/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
