// Command dschat-demo is a minimal CLI exercising the protocol core:
// generate an identity, register a contact, listen for inbound peers,
// and dial out, chat, and transfer files over a local stand-in for the
// Tor control collaborator.
package main

import (
	"os"

	"github.com/opd-ai/dschat/cmd/dschat-demo/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
