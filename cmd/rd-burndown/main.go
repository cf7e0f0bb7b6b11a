package main

import "github.com/kiririmode/redmine-burndown/internal/cli"

func main() {
	cli.Execute()
}
