package main

import "affwatch/internal/cli"

func main() {
	cli.Execute()
}
