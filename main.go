package main

import "github.com/jfmyers9/carousel/cmd"

func main() {
	cmd.Execute()
}
