package main

import "github.com/tanq16/isofetch/cmd"

func main() {
	cmd.Execute()
}
