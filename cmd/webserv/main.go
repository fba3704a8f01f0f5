// Command webserv runs the web server for a configuration file.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/advdv/webserv/app"
	"github.com/advdv/webserv/config"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version information set at build time.
var version = "dev"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "webserv: %s\n", err)
		os.Exit(1)
	}
}

type flags struct {
	config string
	level  string
	test   bool
	dump   bool
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "webserv [-c FILE] [-l LEVEL] [-t | -T] [FILE]",
		Short: "Serve static files, uploads and CGI scripts over HTTP/1.1",
		Long: `webserv is a single process HTTP/1.1 origin server.

The configuration file is taken from -c, the positional argument or
WEBSERV_CONFIG, in that order.`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := f.options(args)
			if err != nil {
				return err
			}
			if f.test || f.dump {
				return testConfig(stdout, f.dump, opts)
			}

			a := app.NewApp(opts...)
			if err := a.Err(); err != nil {
				return err
			}
			a.Run()
			return nil
		},
	}

	cmd.SetOut(stdout)
	cmd.Flags().StringVarP(&f.config, "config", "c", "", "configuration file")
	cmd.Flags().StringVarP(&f.level, "level", "l", "", "log level (debug, info, warn, error)")
	cmd.Flags().BoolVarP(&f.test, "test", "t", false, "test the configuration and exit")
	cmd.Flags().BoolVarP(&f.dump, "dump", "T", false, "test the configuration, print it and exit")
	cmd.MarkFlagsMutuallyExclusive("test", "dump")

	return cmd
}

// options turns the flags into overrides of the environment.
func (f flags) options(args []string) ([]app.Option, error) {
	var opts []app.Option
	switch {
	case f.config != "" && len(args) > 0:
		return nil, errors.New("configuration file given twice")
	case f.config != "":
		opts = append(opts, app.WithConfig(f.config))
	case len(args) > 0:
		opts = append(opts, app.WithConfig(args[0]))
	}

	if f.level != "" {
		level, err := zapcore.ParseLevel(f.level)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid log level %q", f.level)
		}
		opts = append(opts, app.WithLogLevel(level))
	}
	return opts, nil
}

func testConfig(w io.Writer, dump bool, opts []app.Option) error {
	env, err := app.ParseEnv(opts...)()
	if err != nil {
		return err
	}
	cfg, err := app.LoadConfig(env, zap.NewNop())
	if err != nil {
		return errors.Wrapf(err, "configuration %s", env.Config)
	}
	if dump {
		if err := config.Fprint(w, cfg); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "configuration file %s test is successful\n", env.Config)
	return err
}
