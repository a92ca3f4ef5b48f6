package main

import "github.com/justbri/shelfmark/cli"

func main() {
	cli.Execute()
}
