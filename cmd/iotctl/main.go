package main

import "github.com/subtide/iotkit/internal/cli"

func main() {
	cli.Execute()
}
