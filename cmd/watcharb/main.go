package main

import "watch-arbitrage/internal/cli"

func main() {
	cli.Execute()
}
