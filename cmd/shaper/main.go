// Package main is the shaper command line client.
package main

import "shaper/internal/cli"

func main() {
	cli.Execute()
}
