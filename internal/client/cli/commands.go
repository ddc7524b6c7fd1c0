package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dmitrijs2005/blocksync/internal/client/syncer"
	"github.com/dmitrijs2005/blocksync/internal/common"
)

var ErrUsage = errors.New("usage: blocksync [flags] archive <path>... | extract <dest> [pattern]... | list")

// Run executes the command named by args[0].
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return ErrUsage
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "archive":
		if len(rest) == 0 {
			return ErrUsage
		}
		return a.archive(ctx, rest)
	case "extract":
		if len(rest) == 0 {
			return ErrUsage
		}
		return a.extract(ctx, rest[0], rest[1:])
	case "list":
		return a.list(ctx)
	case "help":
		fmt.Fprintln(a.out, ErrUsage)
		return nil
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, ErrUsage)
	}
}

func (a *App) unlock(ctx context.Context) ([]byte, error) {
	pw, err := getPassphrase(a.out)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(pw)

	return a.keys.Unlock(ctx, pw)
}

func (a *App) archive(ctx context.Context, paths []string) error {
	key, err := a.unlock(ctx)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(key)

	stats, err := a.sync.Archive(ctx, key, paths)
	printStats(a.out, stats)
	return err
}

func (a *App) extract(ctx context.Context, dest string, patterns []string) error {
	key, err := a.unlock(ctx)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(key)

	stats, err := a.sync.Extract(ctx, key, dest, patterns)
	printStats(a.out, stats)
	if err == nil && stats.Incomplete > 0 {
		err = fmt.Errorf("%d files could not be extracted", stats.Incomplete)
	}
	return err
}

func (a *App) list(ctx context.Context) error {
	files, err := a.sync.List(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSIZE\tMODIFIED\tPATH")
	for _, f := range files {
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", f.Summary.FileID, f.Summary.FileLength,
			f.Summary.ModTime.Format("2006-01-02 15:04:05"), f.Path)
	}
	return w.Flush()
}

func printStats(w io.Writer, s syncer.Stats) {
	fmt.Fprintf(w, "archived %d, unchanged %d, extracted %d, skipped %d, failed %d\n",
		s.Archived, s.Unchanged, s.Extracted, s.Skipped, s.Failed)
	fmt.Fprintf(w, "blocks: uploaded %d, reused %d, downloaded %d\n",
		s.BlocksUploaded, s.BlocksReused, s.BlocksDownloaded)
	for _, p := range s.IncompleteFiles {
		fmt.Fprintf(w, "incomplete: %s\n", p)
	}
}
