package main

import "github.com/strata-orm/strata/cli"

func main() {
	cli.Execute(cli.Options{})
}
