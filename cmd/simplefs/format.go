package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/keks/simplefs/blkfile"
	"github.com/keks/simplefs/fusefs"
	"github.com/spf13/cobra"
)

func (a *app) formatCmd() *cobra.Command {
	var opts blkfile.FormatOptions

	cmd := &cobra.Command{
		Use:   "format IMAGE",
		Short: "Create an empty image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := blkfile.CreateFile(args[0], opts)
			if err != nil {
				return err
			}
			count := st.Count()
			if err := st.Close(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "formatted %s: %d blocks of %d bytes\n", args[0], count, blkfile.BlockSize)
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.Blocks, "blocks", blkfile.DefaultBlocks, "number of blocks in the image")

	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	var fuseDebug bool

	cmd := &cobra.Command{
		Use:   "serve IMAGE MOUNTPOINT",
		Short: "Mount an image through FUSE until interrupted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, st, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer st.Close()

			srv, err := fusefs.Mount(args[1], fsys, fusefs.Options{Logger: a.log, Debug: fuseDebug})
			if err != nil {
				return fmt.Errorf("mount %s: %w", args[1], err)
			}
			a.log.Info("serving", "image", args[0], "mountpoint", args[1])

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			go func() {
				sig := <-sigs
				a.log.Info("unmounting", "signal", sig)
				if err := srv.Unmount(); err != nil {
					a.log.Error("unmount failed", "err", err)
				}
			}()

			srv.Wait()
			return nil
		},
	}
	cmd.Flags().BoolVar(&fuseDebug, "fuse-debug", false, "log raw FUSE requests")

	return cmd
}
