package main

import "tradegateway/cmd/stream-cli/command"

func main() {
	command.Execute()
}
