package subcmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/mengelbart/icesrc/cmdmain"
)

// dependencies reported by the version command
var reportedDeps = []string{
	"github.com/go-gst/go-gst",
	"github.com/pion/ice/v4",
}

func init() {
	cmdmain.RegisterSubCmd("version", func() cmdmain.SubCmd { return newVersion() })
}

type Version struct {
	path      string
	version   string
	gitCommit string
	gitDate   string
	goVersion string
	deps      map[string]string
}

func newVersion() *Version {
	v := &Version{
		goVersion: runtime.Version(),
		deps:      map[string]string{},
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return v
	}
	v.path = info.Main.Path
	v.version = info.Main.Version
	modified := false
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			v.gitCommit = setting.Value
		case "vcs.time":
			v.gitDate = setting.Value
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}
	if modified {
		v.gitCommit += "+dirty"
	}
	for _, dep := range info.Deps {
		for _, name := range reportedDeps {
			if dep.Path == name {
				v.deps[name] = dep.Version
			}
		}
	}
	return v
}

func (v *Version) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, `%s
	Version:	%s
	Git commit:	%s
	Built:		%s
	Go Version:	%s
`, v.path, v.version, v.gitCommit, v.gitDate, v.goVersion)
	for _, name := range reportedDeps {
		if version, ok := v.deps[name]; ok {
			fmt.Fprintf(&b, "\t%s:\t%s\n", name, version)
		}
	}
	return b.String()
}

// Exec implements cmdmain.SubCmd.
func (v *Version) Exec(_ context.Context, cmd string, args []string) error {
	fs := flag.NewFlagSet("version", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Print version information

Usage:
	%s version [flags]

Flags:
`, cmd)
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr)
	}
	fs.Parse(args)

	fmt.Fprint(os.Stdout, v.String())
	return nil
}

// Help implements cmdmain.SubCmd.
func (v *Version) Help() string {
	return "Print version information"
}
