package main

import (
	"context"
	"os"

	"github.com/nholik/deckhand/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background(), os.Args[1:], os.Stdout); err != nil {
		os.Exit(1)
	}
}
