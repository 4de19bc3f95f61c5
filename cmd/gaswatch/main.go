package main

import "gaswatch/internal/cli"

func main() {
	cli.Execute()
}
