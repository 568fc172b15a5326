package main

import "github.com/arthur326/ARMS/cmd/arms/cmd"

func main() {
	cmd.Execute()
}
