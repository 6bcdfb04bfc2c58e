package main

import (
	"os"

	"xmtp-legacy/services/messages/cmd/msgctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
