package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/nfrund/periskope/internal/app"
	"github.com/nfrund/periskope/internal/domain"
	"github.com/spf13/cobra"
)

var conversationsFormat string

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"convs"},
	Short:   "List conversations",
	Long: `List all conversations ordered by ID.

Examples:
  periskope-cli conversations
  periskope-cli conversations --format json
  periskope-cli conversations create general "General"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDeps(cmd, func(ctx context.Context, deps *app.Dependencies) error {
			convs, err := deps.Store.ListConversations(ctx)
			if err != nil {
				return err
			}
			return printConversations(cmd.OutOrStdout(), convs, conversationsFormat)
		})
	},
}

var conversationsCreateCmd = &cobra.Command{
	Use:   "create ID [TITLE]",
	Short: "Create a conversation, or rename an existing one",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		title := args[0]
		if len(args) == 2 {
			title = args[1]
		}
		return withDeps(cmd, func(ctx context.Context, deps *app.Dependencies) error {
			conv, err := deps.Store.CreateConversation(ctx, args[0], title)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s)\n", conv.ID, conv.Title)
			return nil
		})
	},
}

func printConversations(w io.Writer, convs []domain.Conversation, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if convs == nil {
			convs = []domain.Conversation{}
		}
		return enc.Encode(convs)
	case "table", "":
		if len(convs) == 0 {
			fmt.Fprintln(w, "No conversations found")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTITLE")
		for _, c := range convs {
			fmt.Fprintf(tw, "%s\t%s\n", c.ID, c.Title)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("invalid format %q: valid formats are table and json", format)
	}
}

func init() {
	conversationsCmd.Flags().StringVarP(&conversationsFormat, "format", "f", "table", "Output format (table, json)")
	conversationsCmd.AddCommand(conversationsCreateCmd)
	rootCmd.AddCommand(conversationsCmd)
}
