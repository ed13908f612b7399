// Package main is the single-binary entrypoint for the task distribution
// engine.
package main

import "github.com/ywrsusan/pybossa/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
