package main

import "sora/cmd"

func main() {
	cmd.Execute()
}
