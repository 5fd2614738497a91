package main

import "github.com/tutu-network/talpay/internal/cli"

func main() {
	cli.Execute()
}
