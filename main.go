package main

import "github.com/FluidXR/droidtail/cmd"

func main() {
	cmd.Execute()
}
