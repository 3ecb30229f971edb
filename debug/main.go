package main

import "github.com/emrgen/salesdb/cmd"

func main() {
	cmd.Execute()
}
