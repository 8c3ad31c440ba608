package main

import "dipwatcher/internal/cli"

func main() {
	cli.Execute()
}
