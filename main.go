package main

import "liqwatcher/internal/cli"

func main() {
	cli.Execute()
}
