package main

import "github.com/mistricky/pagepocket-sub000/cmd"

func main() {
	cmd.Execute()
}
