package main

import "forkbench/cmd"

func main() {
	cmd.Execute()
}
