// Command simplefs works with simplefs block images.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/keks/simplefs/blkfile"
	"github.com/keks/simplefs/pathfs"
	"github.com/spf13/cobra"
)

type app struct {
	debug bool
	log   *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "simplefs",
		Short:         "Work with simplefs block images",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if a.debug {
				level = slog.LevelDebug
			}
			a.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		},
	}
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "log every file system operation")

	root.AddCommand(
		a.formatCmd(),
		a.serveCmd(),
		a.lsCmd(),
		a.catCmd(),
		a.mkdirCmd(),
		a.mknodCmd(),
		a.putCmd(),
		a.statCmd(),
		a.checkCmd(),
		a.reportCmd(),
		a.parityCmd(),
	)

	return root
}

// open opens the image at name for use through the path layer. The caller
// closes the returned store.
func (a *app) open(name string) (*pathfs.FS, *blkfile.Store, error) {
	st, err := blkfile.OpenFile(name)
	if err != nil {
		return nil, nil, err
	}
	a.log.Debug("opened image", "image", name, "blocks", st.Count())
	return pathfs.New(st, pathfs.WithLogger(a.log)), st, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "simplefs: %v\n", err)
		os.Exit(1)
	}
}
