package main

import "github.com/pandodao/btcvault/cmd/btcvault-cli/cmd"

func main() {
	cmd.Execute()
}
