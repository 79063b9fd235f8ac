package main

import (
	"os"

	"github.com/markdave123-py/docchat/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
