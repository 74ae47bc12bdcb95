package main

import "discowatch/cmd"

func main() {
	cmd.Execute()
}
