package main

import "github.com/syne-agent/syne/cmd"

func main() {
	cmd.Execute()
}
