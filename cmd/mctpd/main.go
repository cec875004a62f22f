package main

import (
	"os"

	"avaneesh/mctp-go/cmd/mctpd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
