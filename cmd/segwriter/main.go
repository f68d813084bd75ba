package main

import (
	"os"

	"segwriter/cmd/segwriter/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
