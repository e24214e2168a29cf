package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var retryCmd = &cobra.Command{
	Use:   "retry [job_id] [page_id]",
	Short: "Retry a failed page of a running job",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewJobClient(viper.GetString("url"))
		page, err := client.RetryPage(args[0], args[1])
		if err != nil {
			printAPIError(cmd, err)
			return
		}
		cmd.Printf("✓ Page %s requeued (%s)\n", page.ID, page.URLPath)
	},
}

func init() {
	rootCmd.AddCommand(retryCmd)
}
