package main

import (
	"os"

	"github.com/homer-dev/homer/cmd/homer/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
