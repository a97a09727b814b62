/*
ptp-receiver accepts one PTP connection and writes the received file.
*/
package main

import "github.com/skycoin/ptp/cmd/ptp-receiver/commands"

func main() {
	commands.Execute()
}
