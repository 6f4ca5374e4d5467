package main

import "whatsched/internal/cli"

func main() {
	cli.Execute()
}
