package main

import "github.com/astrohq/astrochat-go/cmd"

func main() {
	cmd.Execute()
}
