/*
ptp-sender transfers one file to a ptp-receiver over PTP.
*/
package main

import "github.com/skycoin/ptp/cmd/ptp-sender/commands"

func main() {
	commands.Execute()
}
