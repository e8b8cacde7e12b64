package main

import (
	"context"

	"github.com/netoneko/meow/internal/cli"
)

func main() {
	cli.Execute(context.Background())
}
