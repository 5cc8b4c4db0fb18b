package main

import "github.com/Tyrowin/portalchat/internal/cli"

func main() {
	cli.Execute()
}
