package cmd

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"emperror.dev/errors"
	"github.com/NYTimes/logrotate"
	"github.com/apex/log"
	"github.com/apex/log/handlers/multi"
	"github.com/spf13/cobra"

	"github.com/mountgate/mountgate/config"
	"github.com/mountgate/mountgate/loggers/cli"
	"github.com/mountgate/mountgate/sftp"
	"github.com/mountgate/mountgate/system"
)

var (
	configPath  = config.DefaultLocation
	debug       = false
	showVersion = false
)

var root = &cobra.Command{
	Use:   "mountgate",
	Short: "Serves per-user virtual directories over SFTP",
	Run:   rootCmdRun,
}

func init() {
	root.PersistentFlags().BoolVar(&showVersion, "version", false, "show the version and exit")
	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultLocation, "set the location for the configuration file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "pass in order to run mountgate in debug mode")

	root.AddCommand(newHashCommand())
	root.AddCommand(newConfigureCommand())
	root.AddCommand(newDiagnosticsCommand())
}

// Execute runs the root command.
func Execute() {
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to execute command: %s\n", err)
		os.Exit(1)
	}
}

// readConfiguration loads the configuration from the path provided on the
// command line, resolving it against the working directory when relative.
func readConfiguration() (*config.Configuration, error) {
	p := configPath
	if !strings.HasPrefix(p, "/") {
		d, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		p = path.Clean(path.Join(d, configPath))
	}

	if s, err := os.Stat(p); err != nil {
		return nil, err
	} else if s.IsDir() {
		return nil, errors.New("cannot use directory as configuration file path")
	}

	return config.FromFile(p)
}

func rootCmdRun(*cobra.Command, []string) {
	if showVersion {
		fmt.Println(system.Version)
		os.Exit(0)
	}

	c, err := readConfiguration()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %s\n", err)
		os.Exit(1)
	}
	if debug {
		c.Debug = true
	}

	if err := configureLogging(c.System.LogDirectory, c.Debug); err != nil {
		panic(err)
	}

	log.WithField("path", c.GetPath()).Info("loading configuration from path")
	if c.Debug {
		log.Debug("running in debug mode")
	}

	config.Set(c)

	store := c.Store()
	log.WithField("users", store.Len()).Info("loaded identity store")

	if err := os.MkdirAll(c.System.Data, 0o755); err != nil {
		log.WithField("error", err).Fatal("failed to create the daemon data directory")
		return
	}

	// The SFTP server is the only outward surface of the daemon; Run blocks
	// for the lifetime of the process, handling each connection on its own
	// goroutine.
	if err := sftp.New(store).Run(); err != nil {
		log.WithField("error", err).Fatal("failed to initialize the sftp server")
		return
	}
}

// Configures the global logger for the application, writing colored output
// to the terminal and plain output to a rotated log file.
func configureLogging(logDir string, debug bool) error {
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return err
	}

	p := filepath.Join(logDir, "mountgate.log")
	w, err := logrotate.NewFile(p)
	if err != nil {
		return errors.Wrap(err, "cmd: failed to open output log file")
	}

	log.SetLevel(log.InfoLevel)
	if debug {
		log.SetLevel(log.DebugLevel)
	}
	log.SetHandler(multi.New(cli.Default, cli.New(w, false)))
	log.WithField("path", p).Info("writing log files to disk")

	return nil
}
