package main

import (
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/keks/simplefs"
	"github.com/spf13/cobra"
)

func (a *app) lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls IMAGE [PATH]",
		Short: "List a directory",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "/"
			if len(args) == 2 {
				dir = args[1]
			}

			fsys, st, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer st.Close()

			ents, err := fsys.ReadDir(dir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, ent := range ents {
				attr, err := fsys.Stat(path.Join(dir, ent.Name))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%v %8d %5d %s\n", attr.Mode, attr.Size, attr.ID, attr.Name)
			}
			return nil
		},
	}
}

func (a *app) catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat IMAGE PATH",
		Short: "Print the contents of a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, st, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer st.Close()

			f, err := fsys.Open(args[1])
			if err != nil {
				return err
			}
			size, err := f.Size()
			if err != nil {
				return err
			}

			_, err = io.Copy(cmd.OutOrStdout(), io.NewSectionReader(f, 0, size))
			return err
		},
	}
}

func (a *app) createCmd(use, short string, kind simplefs.Kind) *cobra.Command {
	return &cobra.Command{
		Use:   use + " IMAGE PATH",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, st, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer st.Close()

			id, err := fsys.Create(args[1], kind)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: block %d\n", args[1], id)
			return nil
		},
	}
}

func (a *app) mkdirCmd() *cobra.Command {
	return a.createCmd("mkdir", "Create a directory", simplefs.KindDirectory)
}

func (a *app) mknodCmd() *cobra.Command {
	return a.createCmd("mknod", "Create an empty file", simplefs.KindFile)
}

func (a *app) putCmd() *cobra.Command {
	var off int64

	cmd := &cobra.Command{
		Use:   "put IMAGE PATH",
		Short: "Write standard input into a file, creating it if needed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}

			fsys, st, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer st.Close()

			_, err = fsys.Stat(args[1])
			if errors.Is(err, simplefs.ErrNotFound) {
				_, err = fsys.Mknod(args[1])
			}
			if err != nil {
				return err
			}

			n, err := fsys.Write(args[1], data, off)
			if err != nil {
				return err
			}
			if n < len(data) {
				return fmt.Errorf("wrote %d of %d bytes: %w", n, len(data), simplefs.ErrNoSpace)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", n, args[1])
			return nil
		},
	}
	cmd.Flags().Int64Var(&off, "offset", 0, "file offset to write at")

	return cmd
}

func (a *app) statCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat IMAGE PATH",
		Short: "Show the attributes of a file or directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, st, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer st.Close()

			attr, err := fsys.Stat(args[1])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "name:  %s\n", attr.Name)
			fmt.Fprintf(out, "kind:  %v\n", attr.Kind)
			fmt.Fprintf(out, "block: %d\n", attr.ID)
			fmt.Fprintf(out, "size:  %d\n", attr.Size)
			fmt.Fprintf(out, "mode:  %v\n", attr.Mode)
			fmt.Fprintf(out, "links: %d\n", attr.Nlink)
			return nil
		},
	}
}

func (a *app) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check IMAGE",
		Short: "Check the consistency of an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, st, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer st.Close()

			problems, err := fsys.Check()
			if err != nil {
				return err
			}
			usage, err := st.Usage()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, p := range problems {
				fmt.Fprintln(out, p)
			}
			fmt.Fprintf(out, "%d blocks: %d directories, %d files, %d data, %d free\n",
				st.Count(),
				usage[simplefs.KindDirectory],
				usage[simplefs.KindFile],
				usage[simplefs.KindData],
				usage[simplefs.KindFree])

			if len(problems) > 0 {
				return fmt.Errorf("%s: %d problems: %w", args[0], len(problems), simplefs.ErrCorrupt)
			}
			return nil
		},
	}
}
