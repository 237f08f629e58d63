package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/diskfs/go-ext2/backend"
	backendfile "github.com/diskfs/go-ext2/backend/file"
	"github.com/diskfs/go-ext2/ext2"
)

var verbose bool

// run dispatches "ext2fs <image> [command] [args...]". The image path comes
// first, before the command, and a bare image defaults to info.
func run(args []string) error {
	if len(args) == 0 {
		root := newRootCmd("")
		root.SetOut(os.Stderr)
		_ = root.Usage()
		return errors.New("an image path is required")
	}
	image := args[0]
	rest := args[1:]
	if len(rest) == 0 {
		rest = []string{"info"}
	}
	root := newRootCmd(image)
	root.SetArgs(rest)
	err := root.Execute()
	if err != nil && strings.HasPrefix(err.Error(), "unknown command") {
		root.SetOut(os.Stderr)
		_ = root.Usage()
	}
	return err
}

func newRootCmd(image string) *cobra.Command {
	root := &cobra.Command{
		Use:           "ext2fs <image> [command]",
		Short:         "inspect and modify ext2 filesystem images",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.AddCommand(
		infoCmd(image),
		lsCmd(image),
		catCmd(image),
		writeCmd(image),
		mkdirCmd(image),
		rmCmd(image),
	)
	return root
}

// mount opens the image and mounts the filesystem on it
func mount(image string, readOnly bool) (*ext2.FileSystem, backend.Storage, error) {
	b, err := backendfile.OpenFromPath(image, readOnly)
	if err != nil {
		return nil, nil, err
	}
	size, err := backendfile.Size(b)
	if err != nil {
		_ = b.Close()
		return nil, nil, err
	}
	fs, err := ext2.Read(b, size, 0)
	if err != nil {
		_ = b.Close()
		return nil, nil, err
	}
	return fs, b, nil
}

func infoCmd(image string) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "print filesystem counts and geometry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fs, b, err := mount(image, true)
			if err != nil {
				return err
			}
			defer b.Close()
			info := fs.Info()
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Inodes count:      %d\n", info.InodeCount)
			fmt.Fprintf(w, "Blocks count:      %d\n", info.BlockCount)
			fmt.Fprintf(w, "Free blocks count: %d\n", info.FreeBlocks)
			fmt.Fprintf(w, "Free inodes count: %d\n", info.FreeInodes)
			fmt.Fprintf(w, "Block size:        %d bytes\n", info.BlockSize)
			fmt.Fprintf(w, "Inode size:        %d bytes\n", info.InodeSize)
			fmt.Fprintf(w, "Blocks per group:  %d\n", info.BlocksPerGroup)
			fmt.Fprintf(w, "Inodes per group:  %d\n", info.InodesPerGroup)
			fmt.Fprintf(w, "Block groups:      %d\n", info.BlockGroups)
			if info.VolumeName != "" {
				fmt.Fprintf(w, "Volume name:       %s\n", info.VolumeName)
			}
			fmt.Fprintf(w, "UUID:              %s\n", info.UUID)
			return nil
		},
	}
}

func lsCmd(image string) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "list a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := "/"
			if len(args) > 0 {
				p = args[0]
			}
			fs, b, err := mount(image, true)
			if err != nil {
				return err
			}
			defer b.Close()
			number, err := fs.FindByPath(p)
			if err != nil {
				return err
			}
			dir, err := fs.ReadDirectory(number)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, entry := range dir.Entries() {
				fi, err := fs.Stat(entry.Inode)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%-8d %-5s %-10d %s\n", entry.Inode, typeName(fi), fi.Size, entry.Name)
			}
			return nil
		},
	}
}

func typeName(fi ext2.FileInfo) string {
	switch {
	case fi.Mode.IsDir():
		return "dir"
	case fi.Mode&os.ModeSymlink != 0:
		return "link"
	case fi.Mode.IsRegular():
		return "file"
	default:
		return "other"
	}
}

func catCmd(image string) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>",
		Short: "write file contents to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, b, err := mount(image, true)
			if err != nil {
				return err
			}
			defer b.Close()
			number, err := fs.FindByPath(args[0])
			if err != nil {
				return err
			}
			fl, err := fs.OpenFile(number)
			if err != nil {
				return err
			}
			_, err = io.Copy(cmd.OutOrStdout(), io.LimitReader(fl, int64(fl.Size())))
			return err
		},
	}
}

func writeCmd(image string) *cobra.Command {
	return &cobra.Command{
		Use:   "write <image-path> <local-file>",
		Short: "copy a local file into the image",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			fs, _, err := mount(image, false)
			if err != nil {
				return err
			}
			parent, name := parentAndName(args[0])
			if name == "" {
				return fmt.Errorf("invalid target path %q", args[0])
			}
			if err := fs.WriteFile(parent, name, data); err != nil {
				return err
			}
			return fs.Close()
		},
	}
}

func mkdirCmd(image string) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "create a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			fs, _, err := mount(image, false)
			if err != nil {
				return err
			}
			parent, name := parentAndName(args[0])
			if name == "" {
				return fmt.Errorf("invalid directory path %q", args[0])
			}
			if err := fs.Mkdir(parent, name); err != nil {
				return err
			}
			return fs.Close()
		},
	}
}

func rmCmd(image string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "remove a file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			fs, _, err := mount(image, false)
			if err != nil {
				return err
			}
			number, err := fs.FindByPath(args[0])
			if err != nil {
				return err
			}
			fi, err := fs.Stat(number)
			if err != nil {
				return err
			}
			if fi.IsDir() {
				err = fs.RemoveDirectory(args[0], force)
			} else {
				err = fs.RemoveFile(args[0])
			}
			if err != nil {
				return err
			}
			return fs.Close()
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "remove a directory even if it is not empty")
	return cmd
}

// parentAndName splits an absolute image path into its parent directory and
// final component
func parentAndName(p string) (parent, name string) {
	p = strings.TrimSuffix(p, "/")
	pos := strings.LastIndex(p, "/")
	switch {
	case pos < 0:
		return "/", p
	case pos == 0:
		return "/", p[1:]
	default:
		return p[:pos], p[pos+1:]
	}
}
