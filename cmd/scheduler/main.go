package main

import "regimecast/scheduler/internal/cli"

func main() {
	cli.Execute()
}
