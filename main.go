package main

import "github.com/nextlevelbuilder/astro/cmd"

func main() {
	cmd.Execute()
}
