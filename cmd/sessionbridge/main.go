package main

import (
	"os"

	"github.com/lukaszraczylo/sessionbridge/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
