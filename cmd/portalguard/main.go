package main

import "github.com/jmcleod/portalguard/cmd/portalguard/cmd"

func main() {
	cmd.Execute()
}
