package main

import "github.com/nextlevelbuilder/chatpilot/cmd"

func main() {
	cmd.Execute()
}
