package main

import "github.com/Luneo19/luneo-platform-sub027/cmd"

func main() {
	cmd.Execute()
}
