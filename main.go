package main

import (
	"os"

	"github.com/jandubois/dchealth/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
