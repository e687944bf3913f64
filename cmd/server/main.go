package main

import "github.com/nguyentranbao-ct/request-chat/cmd"

func main() {
	cmd.Execute()
}
