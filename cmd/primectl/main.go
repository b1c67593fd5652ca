package main

import (
	"context"
	"os"

	"github.com/agbru/primecount/internal/app"
)

func main() {
	os.Exit(app.RunClient(context.Background(), os.Args, os.Stdout, os.Stderr))
}
