package main

import "github.com/blackcat-ai/blackcat/cmd"

func main() {
	cmd.Execute()
}
