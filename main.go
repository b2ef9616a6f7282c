package main

import (
	cmd "github.com/kode-sdk/kode-chat/cmd"
)

func main() {
	cmd.Execute()
}
