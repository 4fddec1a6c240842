package main

import "mezzanine-go/cmd/lsconctl/cmd"

func main() {
	cmd.Execute()
}
