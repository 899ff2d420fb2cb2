package main

import "github.com/samaelod/flowc/cmd/flowc/cmd"

func main() {
	cmd.Execute()
}
