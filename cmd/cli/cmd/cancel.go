package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel [job_id]",
	Short: "Cancel a running job",
	Long:  `Cancel a job that has not finished. Pages already being generated complete, but their results do not change the job.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewJobClient(viper.GetString("url"))
		job, err := client.CancelJob(args[0])
		if err != nil {
			printAPIError(cmd, err)
			return
		}
		cmd.Printf("✓ Job %s cancelled (%d/%d pages accounted for)\n",
			job.ID, job.CompletedPages+job.FailedPages, job.TotalPages)
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
