package main

import (
	"os"

	"github.com/fabworks/fabdeploy/cli/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
