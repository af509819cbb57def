// File: main.go
package main

import "github.com/greasewire/greasewire/cmd"

func main() {
	cmd.Execute()
}
