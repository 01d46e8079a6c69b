package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/oppsync/internal/outbound"
	"github.com/hyperengineering/oppsync/internal/store"
	"github.com/hyperengineering/oppsync/internal/types"
)

var (
	orgSide   string
	orgFields []string
)

var orgCmd = &cobra.Command{
	Use:   "org",
	Short: "Read and write opportunities in a local org database",
	Long: `Create, update and look up Opportunity records in the SQLite database
backing the source or target org. Useful for seeding a demo and for
checking what a poll or push wrote.`,
}

var orgCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Insert an opportunity",
	Args:  cobra.NoArgs,
	RunE:  runOrgCreate,
}

var orgUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Merge fields into an existing opportunity",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrgUpdate,
}

var orgGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one opportunity",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrgGet,
}

var orgFindCmd = &cobra.Command{
	Use:   "find <field>=<value>",
	Short: "List opportunities whose field equals value",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrgFind,
}

func init() {
	orgCmd.PersistentFlags().StringVar(&orgSide, "org", "source", "Which org: source or target")
	for _, c := range []*cobra.Command{orgCreateCmd, orgUpdateCmd} {
		c.Flags().StringArrayVarP(&orgFields, "field", "f", nil, "Field as name=value (repeatable)")
	}

	orgCmd.AddCommand(orgCreateCmd)
	orgCmd.AddCommand(orgUpdateCmd)
	orgCmd.AddCommand(orgGetCmd)
	orgCmd.AddCommand(orgFindCmd)
}

func (a *app) org(side string) (*store.SQLiteStore, error) {
	switch side {
	case "source":
		return a.source, nil
	case "target":
		return a.target, nil
	default:
		return nil, fmt.Errorf("--org must be source or target, got %q", side)
	}
}

// parseField splits name=value. Values of numeric fields become numbers.
func parseField(s string) (string, any, error) {
	name, raw, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", nil, fmt.Errorf("invalid field %q: want name=value", s)
	}
	if outbound.NumericFields[name] {
		if f, ok := types.Number(raw); ok {
			return name, f, nil
		}
		return "", nil, fmt.Errorf("field %s: %q is not a number", name, raw)
	}
	return name, raw, nil
}

func parseFields(in []string) (map[string]any, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("at least one --field is required")
	}
	fields := make(map[string]any, len(in))
	for _, s := range in {
		name, v, err := parseField(s)
		if err != nil {
			return nil, err
		}
		fields[name] = v
	}
	return fields, nil
}

func runOrgCreate(cmd *cobra.Command, args []string) error {
	fields, err := parseFields(orgFields)
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		o, err := a.org(orgSide)
		if err != nil {
			return err
		}
		id, err := o.Insert(ctx, types.NewRecord(fields))
		if err != nil {
			return err
		}
		return showRecord(ctx, cmd, o, id)
	})
}

func runOrgUpdate(cmd *cobra.Command, args []string) error {
	fields, err := parseFields(orgFields)
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		o, err := a.org(orgSide)
		if err != nil {
			return err
		}
		if err := o.Update(ctx, args[0], types.NewRecord(fields)); err != nil {
			return err
		}
		return showRecord(ctx, cmd, o, args[0])
	})
}

func runOrgGet(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		o, err := a.org(orgSide)
		if err != nil {
			return err
		}
		return showRecord(ctx, cmd, o, args[0])
	})
}

func runOrgFind(cmd *cobra.Command, args []string) error {
	field, value, err := parseField(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		o, err := a.org(orgSide)
		if err != nil {
			return err
		}
		recs, err := o.Find(ctx, field, value)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, recs)
		}
		if len(recs) == 0 {
			fmt.Fprintln(out, "No records found.")
			return nil
		}
		tw := newTabWriter(out)
		fmt.Fprintln(tw, "ID\tNAME\tLAST MODIFIED")
		for _, r := range recs {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ID, r.Name(), formatTime(&r.LastModifiedDate))
		}
		return tw.Flush()
	})
}

func showRecord(ctx context.Context, cmd *cobra.Command, o *store.SQLiteStore, id string) error {
	r, err := o.Get(ctx, id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, r)
	}
	tw := newTabWriter(out)
	fmt.Fprintf(tw, "Id:\t%s\n", r.ID)
	fmt.Fprintf(tw, "LastModifiedDate:\t%s\n", formatTime(&r.LastModifiedDate))
	names := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintf(tw, "%s:\t%v\n", k, r.Fields[k])
	}
	return tw.Flush()
}
