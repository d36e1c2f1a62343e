package main

import "github.com/liuxd6825/surge/cmd"

func main() {
	cmd.Execute()
}
