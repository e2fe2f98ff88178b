package main

import (
	"context"
	"os"

	"github.com/sandeepkv93/secure-auth-core/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background()))
}
