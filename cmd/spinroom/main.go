package main

import "github.com/mcoot/spinroom/internal/cli"

func main() {
	cli.Execute()
}
