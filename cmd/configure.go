package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"emperror.dev/errors"
	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/mountgate/mountgate/config"
)

func newConfigureCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "configure",
		Short: "Interactively add a user and their mounts to the configuration",
		Run:   configureCmdRun,
	}
}

func configureCmdRun(cmd *cobra.Command, args []string) {
	c, err := config.FromFile(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "failed to read configuration: %s\n", err)
			os.Exit(1)
		}
		if c, err = config.NewAtPath(configPath); err != nil {
			panic(err)
		}
	}

	var answers struct {
		Username string
		Password string
	}
	err = survey.Ask([]*survey.Question{
		{
			Name:     "Username",
			Prompt:   &survey.Input{Message: "Username:"},
			Validate: survey.Required,
		},
		{
			Name:     "Password",
			Prompt:   &survey.Password{Message: "Password:"},
			Validate: survey.Required,
		},
	}, &answers)
	if err == terminal.InterruptErr {
		return
	}
	if err != nil {
		panic(err)
	}

	digest, err := bcrypt.GenerateFromPassword([]byte(answers.Password), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}

	user := config.UserConfiguration{
		Name:     answers.Username,
		Password: string(digest),
	}

	for {
		var more bool
		if err := survey.AskOne(&survey.Confirm{Message: "Add a mount?", Default: len(user.Mounts) == 0}, &more); err != nil || !more {
			break
		}

		var mount struct {
			Name     string
			Path     string
			ReadOnly bool
		}
		err := survey.Ask([]*survey.Question{
			{
				Name:     "Name",
				Prompt:   &survey.Input{Message: "Mount name:"},
				Validate: survey.Required,
			},
			{
				Name:   "Path",
				Prompt: &survey.Input{Message: "Real directory (absolute path):"},
				Validate: func(ans interface{}) error {
					if str, ok := ans.(string); ok && !filepath.IsAbs(str) {
						return fmt.Errorf("the path must be absolute")
					}
					return nil
				},
			},
			{
				Name:   "ReadOnly",
				Prompt: &survey.Confirm{Message: "Read-only?", Default: false},
			},
		}, &mount)
		if err == terminal.InterruptErr {
			return
		}
		if err != nil {
			panic(err)
		}

		user.Mounts = append(user.Mounts, config.MountConfiguration{
			Name:     mount.Name,
			Path:     mount.Path,
			ReadOnly: mount.ReadOnly,
		})
	}

	c.Users = append(c.Users, user)
	if err := c.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "refusing to write an invalid configuration: %s\n", err)
		os.Exit(1)
	}
	if err := c.WriteToDisk(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write configuration: %s\n", err)
		os.Exit(1)
	}

	fmt.Printf("Added user %q to %s.\n", user.Name, c.GetPath())
}
