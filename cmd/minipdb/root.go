package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/minipdb/minipdb/internal/app"
	"github.com/minipdb/minipdb/internal/config"
	"github.com/minipdb/minipdb/internal/logging"
)

// cli holds the global flags and the streams every command writes to.
type cli struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	configFile string
	database   string
	logMode    string
	engine     string
	yes        bool

	app *app.App
	log *logging.Logger

	// setupHook lets tests adjust the app before a command runs
	setupHook func(a *app.App)
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	c := &cli{in: in, out: out, errOut: errOut}
	return c.rootCmd()
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "minipdb [command]",
		Short: "Registry of Stan programs and their reference posterior draws",
		Long: `minipdb keeps Stan programs, their data and sampler settings in a SQLite
database, runs them through CmdStan and stores the resulting reference draws.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.log != nil {
				c.log.Sync()
			}
		},
	}
	root.SetIn(c.in)
	root.SetOut(c.out)
	root.SetErr(c.errOut)

	flags := root.PersistentFlags()
	flags.StringVarP(&c.database, "database", "d", "", "Path to the registry database (default minipdb.sqlite, or MINIPDB_DATABASE env)")
	flags.BoolVarP(&c.yes, "yes", "y", false, "Answer Yes to every confirmation prompt")
	flags.StringVar(&c.configFile, "config", "", "Tool configuration file (YAML or JSON)")
	flags.StringVar(&c.logMode, "log-mode", "", "Log output: dev, prod, quiet")
	flags.StringVar(&c.engine, "engine", "", "Sampling engine: cmdstan, synthetic")

	root.AddCommand(
		c.initCmd(),
		c.insertCmd(),
		c.updateCmd(),
		c.deleteCmd(),
		c.runCmd(),
		c.runAllCmd(),
		c.listCmd(),
		c.writeCmd(),
		c.summaryCmd(),
		c.publishCmd(),
		c.fetchCmd(),
	)
	return root
}

// setup loads the configuration and builds the application.
func (c *cli) setup() error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogMode)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	c.log = log

	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	if c.setupHook != nil {
		c.setupHook(a)
	}
	c.app = a
	return nil
}

// loadConfig applies defaults, then the config file, then the environment,
// then command line flags.
func (c *cli) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if c.configFile != "" {
		loaded, err := config.LoadFromFile(c.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if c.database != "" {
		cfg.Database = c.database
	}
	if c.logMode != "" {
		cfg.LogMode = c.logMode
	}
	if c.engine != "" {
		cfg.Engine.Kind = c.engine
	}
	return cfg, nil
}

// confirm asks the user to type Yes. --yes skips the prompt; a
// non-interactive stdin without --yes declines.
func (c *cli) confirm(prompt, canceled string) error {
	if c.yes {
		return nil
	}
	if !c.interactive() {
		return fmt.Errorf("%s (stdin is not a terminal; pass --yes to confirm)", canceled)
	}

	fmt.Fprintf(c.out, "%s\n\nType Yes to continue: ", prompt)
	line, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("read confirmation: %w", err)
	}
	if strings.TrimSpace(line) != "Yes" {
		return fmt.Errorf("%s", canceled)
	}
	return nil
}

func (c *cli) interactive() bool {
	f, ok := c.in.(*os.File)
	if !ok {
		return true
	}
	return term.IsTerminal(int(f.Fd()))
}

func (c *cli) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.out, format, args...)
}
