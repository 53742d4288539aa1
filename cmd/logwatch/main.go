package main

import "github.com/chainflux/logwatch/internal/cli"

func main() {
	cli.Execute()
}
