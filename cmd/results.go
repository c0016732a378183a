package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"forkbench/internal/rpc"
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Print the greeting count and the vote tally",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()
		return withClient(ctx, func(c rpc.Client) error {
			res, err := rpc.CallSync(ctx, c, rpc.ProcResults)
			if err != nil {
				return err
			}
			printResults(os.Stdout, res.Rows)
			return nil
		})
	},
}

var lookupCmd = &cobra.Command{
	Use:   "lookup <language>",
	Short: "Print the greeting stored for a language",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()
		return withClient(ctx, func(c rpc.Client) error {
			return lookup(ctx, c, os.Stdout, args[0])
		})
	},
}

func withClient(ctx context.Context, fn func(rpc.Client) error) error {
	c := rpc.NewHTTPClient(opts.ClientConfig())
	defer c.Close()
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return fn(c)
}

func lookup(ctx context.Context, c rpc.Caller, out io.Writer, language string) error {
	res, err := rpc.CallSync(ctx, c, rpc.ProcSelect, language)
	if err != nil {
		return err
	}
	hello, ok1 := res.FirstValue("hello")
	world, ok2 := res.FirstValue("world")
	if !ok1 || !ok2 {
		return fmt.Errorf("no greeting stored for %q", language)
	}
	_, err = fmt.Fprintf(out, "%v, %v!\n", hello, world)
	return err
}

func printResults(out io.Writer, rows []map[string]any) {
	for _, row := range rows {
		if name, ok := row["contestant_name"]; ok {
			fmt.Fprintf(out, "%v. %-20v %s votes\n", row["contestant_number"], name, humanize.Comma(asInt64(row["total_votes"])))
			continue
		}
		if table, ok := row["table"]; ok {
			fmt.Fprintf(out, "%v: %s rows\n", table, humanize.Comma(asInt64(row["count"])))
			continue
		}
		keys := make([]string, 0, len(row))
		for k := range row {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, row[k]))
		}
		fmt.Fprintln(out, strings.Join(parts, " "))
	}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case int64:
		return n
	default:
		return 0
	}
}
