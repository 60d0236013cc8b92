/*
Copyright © 2022 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/csweichel/chainfs/cmd"

func main() {
	cmd.Execute()
}
