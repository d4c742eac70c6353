package main

import "go-syncstart/cmd"

func main() {
	cmd.Execute()
}
