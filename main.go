/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "menubot/cmd"

func main() {
	cmd.Execute()
}
