package main

import "github.com/kiesman99/tilevas/cmd"

func main() {
	cmd.Execute()
}
