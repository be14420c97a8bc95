// Command stitch appends named binary resources to an executable and
// inspects or extracts resources appended earlier.
//
//	stitch <source-file> <resource>... [--output <path>]
//	stitch list <file>
//	stitch extract <file> <name|index> [--output <path>]
//
// Each <resource> argument is either a bare path (the resource name
// defaults to the path's base name) or name=path.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/stitchkit/stitch"
)

// version is set by the release build.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		output  string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:     "stitch <source-file> <resource>... [--output <path>]",
		Short:   "Append binary resources to an executable",
		Version: version,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppend(args[0], args[1:], output, verbose)
		},
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (defaults to in-place append)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug detail to stderr")

	cmd.AddCommand(newListCmd(), newExtractCmd(&verbose))
	return cmd
}

func runAppend(source string, resources []string, output string, verbose bool) error {
	var opts []stitch.WriterOption
	if verbose {
		opts = append(opts, stitch.WithWriterLogger(debugLogger()))
	}

	w, err := stitch.OpenWriter(source, output, opts...)
	if err != nil {
		return err
	}
	defer w.Close()

	for _, arg := range resources {
		name, path := splitResourceArg(arg)
		if _, err := w.AddFile(name, path); err != nil {
			return err
		}
	}
	if err := w.Commit(); err != nil {
		return err
	}

	dest := output
	if dest == "" {
		dest = source
	}
	fmt.Printf("stitched %d resource(s) into %s\n", len(resources), dest)
	return nil
}

// splitResourceArg parses a resource argument of the form "name=path" or a
// bare path. An empty name lets the writer default to the path's base name.
func splitResourceArg(arg string) (name, path string) {
	if i := strings.Index(arg, "="); i >= 0 {
		return arg[:i], arg[i+1:]
	}
	return "", arg
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <file>",
		Short: "List resources stitched into a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := stitch.OpenReader(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			fmt.Printf("format version %d, %d resource(s)\n", r.FormatVersion(), r.Count())
			for i := 0; i < r.Count(); i++ {
				name, err := r.Name(i)
				if err != nil {
					return err
				}
				size, err := r.Size(i)
				if err != nil {
					return err
				}
				scratch, err := r.Scratch(i)
				if err != nil {
					return err
				}
				line := fmt.Sprintf("%4d  %-30s %10s", i, name, humanize.Bytes(size))
				if scratch != [stitch.ScratchSize]byte{} {
					line += fmt.Sprintf("  scratch=%x", scratch)
				}
				fmt.Println(line)
			}
			return nil
		},
		SilenceUsage: true,
	}
}

func newExtractCmd(verbose *bool) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "extract <file> <name|index>",
		Short: "Extract one resource to a file or stdout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []stitch.ReaderOption
			if *verbose {
				opts = append(opts, stitch.WithReaderLogger(debugLogger()))
			}
			r, err := stitch.OpenReader(args[0], opts...)
			if err != nil {
				return err
			}
			defer r.Close()

			index, err := resolveResource(r, args[1])
			if err != nil {
				return err
			}
			src, err := r.Open(index)
			if err != nil {
				return err
			}

			var dst io.Writer = os.Stdout
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				dst = f
			}
			_, err = io.Copy(dst, src)
			return err
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the resource here instead of stdout")
	return cmd
}

// resolveResource interprets ref as a resource name first and falls back to
// a zero-based index when no resource has that name.
func resolveResource(r *stitch.Reader, ref string) (int, error) {
	index, err := r.Index(ref)
	if err == nil {
		return index, nil
	}
	if n, convErr := strconv.Atoi(ref); convErr == nil && n >= 0 {
		return n, nil
	}
	return 0, err
}

func debugLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
