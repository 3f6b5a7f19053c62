package main

import "go.pilab.hu/idp/cmd/idpctl/cmd"

func main() {
	cmd.Execute()
}
