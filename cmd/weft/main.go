package main

import "github.com/loomworks/weft/internal/cli"

func main() {
	cli.Execute()
}
