// twopence drives commands and file transfers on a system under test from
// the command line, over any registered transport backend.
package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	it "github.com/vikas-lamba/twopence/transport"
	"github.com/vikas-lamba/twopence/transport/command"
	"github.com/vikas-lamba/twopence/transport/file"
	_ "github.com/vikas-lamba/twopence/transport/ssh"
)

type rootOpts struct {
	target  string
	user    string
	timeout time.Duration
	verbose bool
	log     *zap.SugaredLogger
}

func main() {
	opts := &rootOpts{}

	root := &cobra.Command{
		Use:           "twopence",
		Short:         "drive commands and files on a system under test",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.log = zap.NewNop().Sugar()
			if opts.verbose {
				log, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				opts.log = log.Sugar()
			}

			return nil
		},
	}

	root.PersistentFlags().StringVarP(&opts.target, "target", "t", "", "target spec, e.g. ssh:host:port")
	root.PersistentFlags().StringVarP(&opts.user, "user", "u", "root", "remote user")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 60*time.Second, "operation deadline")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose logging")
	_ = root.MarkPersistentFlagRequired("target")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newInjectCmd(opts))
	root.AddCommand(newExtractCmd(opts))

	if err := root.Execute(); err != nil {
		it.Explain(os.Stderr, "twopence", it.CodeOf(err))
		opts.log.Debugw("command failed", "err", err)
		os.Exit(1)
	}
}

func (o *rootOpts) open() (*it.Target, error) {
	target, err := it.New(o.target)
	if err != nil {
		return nil, err
	}
	target.SetSink(it.NewSink(it.SinkTerminal, 0))

	return target, nil
}

func newRunCmd(opts *rootOpts) *cobra.Command {
	var tty bool
	var stdin bool

	cmd := &cobra.Command{
		Use:   "run <command>",
		Short: "run a command on the SUT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := opts.open()
			if err != nil {
				return err
			}
			defer target.Close()

			copts := []command.Opt{
				command.WithUser(opts.user),
				command.WithTimeout(opts.timeout),
			}
			if tty {
				copts = append(copts, command.WithPTY())
			}
			if stdin {
				copts = append(copts, command.WithStdin(os.Stdin))
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout+5*time.Second)
			defer cancel()

			status, err := target.Run(ctx, command.New(args[0], copts...))
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "status %d/%d\n", status.Major, status.Minor)
			opts.log.Debugw("command finished", "major", status.Major, "minor", status.Minor)

			return nil
		},
	}

	cmd.Flags().BoolVar(&tty, "tty", false, "request a pseudo-terminal")
	cmd.Flags().BoolVar(&stdin, "stdin", false, "forward local stdin to the command")

	return cmd
}

func newInjectCmd(opts *rootOpts) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "inject <local> <remote>",
		Short: "upload a local file to the SUT",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := opts.open()
			if err != nil {
				return err
			}
			defer target.Close()

			perm, err := strconv.ParseUint(mode, 8, 32)
			if err != nil {
				return it.ErrParameter.Wrapf("invalid mode %q", mode)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			var status it.Status
			if args[0] == "-" {
				status, err = target.InjectReader(ctx, opts.user, os.Stdin, args[1], fs.FileMode(perm))
			} else {
				src, oerr := file.Open(args[0])
				if oerr != nil {
					return it.ErrLocalFile.Wrap(oerr)
				}
				defer src.Close()
				status, err = target.Inject(ctx, opts.user, src, args[1], fs.FileMode(perm))
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "status %d/%d\n", status.Major, status.Minor)

			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "0644", "octal mode of the remote file")

	return cmd
}

func newExtractCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "extract <remote> <local>",
		Short: "download a file from the SUT",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := opts.open()
			if err != nil {
				return err
			}
			defer target.Close()

			dst := os.Stdout
			if args[1] != "-" {
				f, err := os.Create(args[1])
				if err != nil {
					return it.ErrLocalFile.Wrap(err)
				}
				defer f.Close()
				dst = f
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			status, err := target.Extract(ctx, opts.user, args[0], dst)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "status %d/%d\n", status.Major, status.Minor)

			return nil
		},
	}
}
