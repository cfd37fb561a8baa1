package main

import "github.com/Haggus/RoyalUr.net/cmd"

func main() {
	cmd.Execute()
}
