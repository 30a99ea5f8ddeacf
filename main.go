package main

import "parlor/cmd"

func main() {
	cmd.Execute()
}
