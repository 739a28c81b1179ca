package main

import (
	"github.com/mengelbart/icesrc/cmdmain"
	_ "github.com/mengelbart/icesrc/subcmd"
)

func main() {
	cmdmain.Main()
}
