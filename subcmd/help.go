package subcmd

import (
	"context"
	"flag"

	"github.com/mengelbart/icesrc/cmdmain"
)

func init() {
	cmdmain.RegisterSubCmd("help", func() cmdmain.SubCmd { return new(help) })
}

type help struct{}

// Exec implements cmdmain.SubCmd.
func (h *help) Exec(_ context.Context, cmd string, args []string) error {
	flag.Usage()
	return nil
}

// Help implements cmdmain.SubCmd.
func (h *help) Help() string {
	return "Print help"
}
