package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var createCmd = &cobra.Command{
	Use:   "create [business_id]",
	Short: "Start a generation job for a business",
	Long: `Start a generation job. Every (content item, location) pair of the page type becomes a page.

Page types: keyword-service-area, keyword-location, service-service-area,
service-location, blog-service-area, blog-location.

Example:
  pagectl create 3f2b8a4e-5c1d-4e8f-9a7b-2c3d4e5f6a7b --page-type keyword-service-area`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		pageType, _ := cmd.Flags().GetString("page-type")
		if pageType == "" {
			cmd.Println("Error: --page-type is required")
			return
		}

		client := NewJobClient(viper.GetString("url"))
		job, err := client.CreateJob(args[0], pageType)
		if err != nil {
			printAPIError(cmd, err)
			return
		}

		cmd.Printf("✓ Job created!\nID: %s\nPage type: %s\nPages: %d\n", job.ID, job.PageType, job.TotalPages)
		if n := len(job.UndispatchedPages); n > 0 {
			cmd.Printf("%s! %d pages could not be dispatched yet and will be retried automatically%s\n", colorYellow, n, colorReset)
		}
	},
}

func init() {
	createCmd.Flags().StringP("page-type", "t", "", "Page type to generate (required)")
	rootCmd.AddCommand(createCmd)
}
