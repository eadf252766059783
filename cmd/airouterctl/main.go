// Package main is the entry point for airouterctl.
package main

import "github.com/howard-nolan/airouter/internal/cli"

func main() {
	cli.Execute()
}
