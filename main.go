package main

import "github.com/tundrasim/tundrasim/cmd"

func main() {
	cmd.Execute()
}
