package main

import "github.com/MeKo-Tech/idcap/cmd/idcap/cmd"

func main() {
	cmd.Execute()
}
