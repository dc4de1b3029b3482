package main

import "github.com/micrictor/cpnat/cmd"

func main() {
	cmd.Execute()
}
