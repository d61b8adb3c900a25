package main

import "github.com/ValentinKolb/mLog/cmd"

func main() {
	cmd.Execute()
}
