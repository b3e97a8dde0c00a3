package main

import "bundle-packager/cmd/packager-cli/cmd"

func main() {
	cmd.Execute()
}
