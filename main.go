package main

import "github.com/majednitol/scai-solana-bridge/cmd"

func main() {
	cmd.Execute()
}
