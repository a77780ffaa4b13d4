package main

import (
	"context"
	"os"

	"crypto-strategy-engine/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		os.Exit(1)
	}
}
