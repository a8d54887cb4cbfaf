package cmd

import (
	"fmt"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

func newHashCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash [password]",
		Short: "Generate a password digest for a configuration entry",
		Long:  "Generates a bcrypt digest of a password suitable for the \"password\" field of a user entry, so plaintext credentials never have to be stored on disk.",
		Args:  cobra.MaximumNArgs(1),
		Run:   hashCmdRun,
	}
}

func hashCmdRun(cmd *cobra.Command, args []string) {
	var password string
	if len(args) == 1 {
		password = args[0]
	} else {
		err := survey.AskOne(&survey.Password{Message: "Password:"}, &password, survey.WithValidator(survey.Required))
		if err == terminal.InterruptErr {
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read password: %s\n", err)
			os.Exit(1)
		}
	}

	digest, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate digest: %s\n", err)
		os.Exit(1)
	}

	fmt.Println(string(digest))
}
