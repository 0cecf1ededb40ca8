package main

import "github.com/jup-ag/cctp-connect/cmd"

func main() {
	cmd.Execute()
}
