package main

import "github.com/theirongolddev/credengine/cmd"

func main() {
	cmd.Execute()
}
