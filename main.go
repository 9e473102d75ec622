package main

import "github.com/panopticon-door/panopticon/cmd"

func main() {
	cmd.Execute()
}
