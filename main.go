package main

import "github.com/tapwire/tapwire/cmd"

func main() {
	cmd.Execute()
}
