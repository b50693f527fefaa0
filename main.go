package main

import "github.com/yz4230/release-promoter/cmd"

func main() {
	cmd.Execute()
}
