package main

import (
	"os"

	"svcrpc/cmd/svcctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
