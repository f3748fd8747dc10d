package main

import "pairbot/cmd"

func main() {
	cmd.Execute()
}
