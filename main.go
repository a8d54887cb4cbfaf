package main

import (
	"github.com/mountgate/mountgate/cmd"
)

func main() {
	cmd.Execute()
}
