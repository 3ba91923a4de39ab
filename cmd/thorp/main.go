package main

import "github.com/ppgrobot/BTC-Thorp/internal/cli"

func main() {
	cli.Execute()
}
