package main

import "github.com/laboras/laboras/cmd"

func main() {
	cmd.Execute()
}
