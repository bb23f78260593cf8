package main

import "github.com/bluquist/bluquist/cmd/bluquist/cmd"

func main() {
	cmd.Execute()
}
