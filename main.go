package main

import (
	"os"

	"github.com/dopamas/querygate/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
