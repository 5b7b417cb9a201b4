package main

import "github.com/dupescan/dupescan/cmd"

func main() {
	cmd.Execute()
}
