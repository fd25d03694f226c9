package main

import "ghconf/internal/cmd"

func main() {
	cmd.Execute()
}
