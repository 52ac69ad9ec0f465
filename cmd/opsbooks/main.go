package main

import "github.com/opsbooks/opsbooks/internal/cli"

func main() {
	cli.Execute()
}
