package main

import "github.com/empirempi/empire/cmd"

func main() {
	cmd.Execute()
}
