package cmd

import (
	"fmt"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/spf13/cobra"

	"github.com/mountgate/mountgate/system"
)

var diagnosticsArgs struct {
	IncludeUsernames bool
}

func newDiagnosticsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnostics",
		Short: "Collect and report information about this instance to assist in debugging",
		Run:   diagnosticsCmdRun,
	}
}

// diagnosticsCmdRun prints a report of the daemon version, runtime, and a
// redacted view of the configuration. Credentials are never included;
// usernames and mount paths only when explicitly confirmed, so the output is
// safe to paste into a bug report.
func diagnosticsCmdRun(cmd *cobra.Command, args []string) {
	err := survey.Ask([]*survey.Question{
		{
			Name:   "IncludeUsernames",
			Prompt: &survey.Confirm{Message: "Do you want to include usernames and mount paths?", Default: false},
		},
	}, &diagnosticsArgs)
	if err == terminal.InterruptErr {
		return
	}
	if err != nil {
		panic(err)
	}

	var b strings.Builder
	info := system.GetSystemInformation()

	fmt.Fprintln(&b, "mountgate - diagnostics report")
	printHeader(&b, "Versions")
	fmt.Fprintln(&b, "              mountgate:", info.Version)
	fmt.Fprintln(&b, "                     go:", info.GoVersion)
	fmt.Fprintln(&b, "                     os:", info.OS+"/"+info.Architecture)

	printHeader(&b, "Configuration")
	c, err := readConfiguration()
	if err != nil {
		fmt.Fprintln(&b, "  failed to load configuration:", err)
	} else {
		fmt.Fprintln(&b, "                   path:", c.GetPath())
		fmt.Fprintln(&b, "                  debug:", c.Debug)
		fmt.Fprintln(&b, "           sftp address:", c.System.Sftp.Address)
		fmt.Fprintln(&b, "              sftp port:", c.System.Sftp.Port)
		fmt.Fprintln(&b, "         data directory:", c.System.Data)
		fmt.Fprintln(&b, "          log directory:", c.System.LogDirectory)
		fmt.Fprintln(&b, "                  users:", len(c.Users))

		if diagnosticsArgs.IncludeUsernames {
			printHeader(&b, "Users")
			for _, u := range c.Users {
				fmt.Fprintf(&b, "  %s (%d mounts)\n", u.Name, len(u.Mounts))
				for _, m := range u.Mounts {
					mode := "rw"
					if m.ReadOnly {
						mode = "ro"
					}
					fmt.Fprintf(&b, "    %s -> %s [%s]\n", m.Name, m.Path, mode)
				}
			}
		}
	}

	fmt.Fprintln(&b)
	fmt.Print(b.String())
}

func printHeader(b *strings.Builder, title string) {
	fmt.Fprintln(b, "\n|\n|", title)
	fmt.Fprintln(b, "| ------------------------------")
}
