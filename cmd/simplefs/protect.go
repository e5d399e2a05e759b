package main

import (
	"fmt"
	"io"
	"os"

	"github.com/keks/simplefs/blkfile"
	"github.com/keks/simplefs/parity"
	"github.com/keks/simplefs/report"
	"github.com/spf13/cobra"
)

func (a *app) reportCmd() *cobra.Command {
	var (
		opts report.Options
		text bool
	)

	cmd := &cobra.Command{
		Use:   "report IMAGE [OUT.png]",
		Short: "Draw a map of block usage",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !text && len(args) != 2 {
				return fmt.Errorf("report needs an output file unless --text is given")
			}

			st, err := blkfile.OpenFile(args[0])
			if err != nil {
				return err
			}
			defer st.Close()

			if opts.Title == "" {
				opts.Title = args[0]
			}

			if text {
				return report.WriteText(st, cmd.OutOrStdout(), opts)
			}

			f, err := os.Create(args[1])
			if err != nil {
				return err
			}
			if err := report.Render(st, f, opts); err != nil {
				f.Close()
				return err
			}
			a.log.Debug("wrote report", "image", args[0], "out", args[1])
			return f.Close()
		},
	}
	cmd.Flags().IntVar(&opts.Columns, "columns", 32, "blocks per row")
	cmd.Flags().IntVar(&opts.Cell, "cell", 16, "cell size in pixels")
	cmd.Flags().StringVar(&opts.Title, "title", "", "map title (default the image name)")
	cmd.Flags().BoolVar(&text, "text", false, "print the map as text instead")

	return cmd
}

func sidecarName(args []string) string {
	if len(args) == 2 {
		return args[1]
	}
	return args[0] + ".parity"
}

func (a *app) parityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parity",
		Short: "Protect an image with Reed-Solomon parity",
	}

	var opts parity.Options
	build := &cobra.Command{
		Use:   "build IMAGE [SIDECAR]",
		Short: "Compute parity and write the sidecar (default IMAGE.parity)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer img.Close()
			fi, err := img.Stat()
			if err != nil {
				return err
			}

			out, err := os.Create(sidecarName(args))
			if err != nil {
				return err
			}
			hdr, err := parity.Build(img, fi.Size(), out, opts)
			if err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d data + %d parity shards of %d bytes, set %v\n",
				sidecarName(args), hdr.DataShards, hdr.ParityShards, hdr.ShardSize, hdr.SetID)
			return nil
		},
	}
	build.Flags().IntVar(&opts.DataShards, "data", parity.DefaultDataShards, "number of data shards")
	build.Flags().IntVar(&opts.ParityShards, "parity", parity.DefaultParityShards, "number of parity shards")

	verify := &cobra.Command{
		Use:   "verify IMAGE [SIDECAR]",
		Short: "Check an image against its sidecar",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer img.Close()

			return withSidecar(args, func(r io.Reader) error {
				res, err := parity.Verify(img, r)
				if err != nil {
					return err
				}
				printResult(cmd, res)
				if !res.OK() {
					return fmt.Errorf("%s: %d damaged shards", args[0], len(res.Corrupt))
				}
				return nil
			})
		},
	}

	repair := &cobra.Command{
		Use:   "repair IMAGE [SIDECAR]",
		Short: "Rebuild damaged parts of an image from its sidecar",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := os.OpenFile(args[0], os.O_RDWR, 0)
			if err != nil {
				return err
			}

			err = withSidecar(args, func(r io.Reader) error {
				res, err := parity.Repair(img, r)
				if res != nil {
					printResult(cmd, res)
				}
				if err != nil {
					return err
				}
				if res.DataCorrupt() {
					a.log.Info("repaired image", "image", args[0], "shards", len(res.Corrupt))
				}
				return nil
			})
			if err != nil {
				img.Close()
				return err
			}
			return img.Close()
		},
	}

	cmd.AddCommand(build, verify, repair)
	return cmd
}

func withSidecar(args []string, fn func(io.Reader) error) error {
	f, err := os.Open(sidecarName(args))
	if err != nil {
		return err
	}
	defer f.Close()
	return fn(f)
}

func printResult(cmd *cobra.Command, res *parity.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "set %v: %d data + %d parity shards of %d bytes\n",
		res.Header.SetID, res.Header.DataShards, res.Header.ParityShards, res.Header.ShardSize)
	for _, i := range res.Corrupt {
		what := "data"
		if i >= int(res.Header.DataShards) {
			what = "parity"
		}
		fmt.Fprintf(out, "shard %d (%s) damaged\n", i, what)
	}
	if res.OK() {
		fmt.Fprintln(out, "ok")
	}
}
