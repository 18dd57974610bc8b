package main

import (
	"github.com/edge-vision/camctl/cmd/camctl/commands"
)

func main() {
	commands.Execute()
}
