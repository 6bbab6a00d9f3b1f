package main

import (
	"os"

	"Pivot/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
