package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var pagesCmd = &cobra.Command{
	Use:   "pages [job_id]",
	Short: "List the pages of a job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		status, _ := flags.GetString("status")
		limit, _ := flags.GetInt("limit")
		offset, _ := flags.GetInt("offset")

		client := NewJobClient(viper.GetString("url"))
		list, err := client.ListPages(args[0], status, limit, offset)
		if err != nil {
			printAPIError(cmd, err)
			return
		}

		if len(list.Pages) == 0 {
			if offset > 0 {
				cmd.Println("No more pages found.")
			} else {
				cmd.Println("No pages found.")
			}
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "PAGE ID\tURL PATH\tSTATUS\tATTEMPTS\tWORDS\tERROR")
		for _, p := range list.Pages {
			words := "-"
			if p.WordCount != nil {
				words = fmt.Sprintf("%d", *p.WordCount)
			}
			errMsg := ""
			if p.ErrorMessage != nil {
				// Truncate long error messages for the table view
				errMsg = *p.ErrorMessage
				if len(errMsg) > 50 {
					errMsg = errMsg[:47] + "..."
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				p.ID,
				p.URLPath,
				p.Status,
				p.Attempts,
				words,
				errMsg,
			)
		}
		w.Flush()
	},
}

func init() {
	flags := pagesCmd.Flags()
	flags.String("status", "", "Filter by status (queued, processing, completed, failed)")
	flags.IntP("limit", "l", 100, "Number of pages to list")
	flags.IntP("offset", "o", 0, "Offset for pagination")
	rootCmd.AddCommand(pagesCmd)
}
