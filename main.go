package main

import "github.com/staarb/staarb/cmd"

func main() {
	cmd.Execute()
}
