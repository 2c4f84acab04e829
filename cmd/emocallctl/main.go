package main

import "emocall/internal/cli"

func main() {
	cli.Execute()
}
