package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var previewCmd = &cobra.Command{
	Use:   "preview [business_id]",
	Short: "List the pages a job would create, without creating it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		pageType, _ := flags.GetString("page-type")
		search, _ := flags.GetString("search")
		limit, _ := flags.GetInt("limit")
		offset, _ := flags.GetInt("offset")

		if pageType == "" {
			cmd.Println("Error: --page-type is required")
			return
		}

		client := NewJobClient(viper.GetString("url"))
		preview, err := client.PreviewJob(args[0], pageType, search, limit, offset)
		if err != nil {
			printAPIError(cmd, err)
			return
		}

		if len(preview.Pages) == 0 {
			cmd.Printf("No pages (total %d).\n", preview.Total)
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "URL PATH\tCONTENT\tLOCATION")
		for _, p := range preview.Pages {
			content := ""
			switch {
			case p.Service != nil:
				content = *p.Service
			case p.Keyword != nil:
				content = *p.Keyword
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", p.URLPath, content, p.Location)
		}
		w.Flush()

		end := preview.Offset + len(preview.Pages)
		cmd.Printf("Showing %d-%d of %d pages\n", preview.Offset+1, end, preview.Total)
	},
}

func init() {
	flags := previewCmd.Flags()
	flags.StringP("page-type", "t", "", "Page type to preview (required)")
	flags.StringP("search", "s", "", "Only show pages whose keyword, service or location contains this text")
	flags.IntP("limit", "l", 50, "Number of pages to show")
	flags.IntP("offset", "o", 0, "Offset for pagination")
	rootCmd.AddCommand(previewCmd)
}
