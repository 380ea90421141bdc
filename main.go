package main

import "github.com/aetherspritee/msirs/cmd"

func main() {
	cmd.Execute()
}
