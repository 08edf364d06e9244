package main

import "github.com/kozaktomas/attendance-terminal/cmd"

func main() {
	cmd.Execute()
}
