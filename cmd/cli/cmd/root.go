package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "pagectl",
	Short: "pagectl is a command line tool for the pagegen generation pipeline",
	Long: `pagectl is the command-line interface for the pagegen page generation pipeline.

A generation job fans a business's keywords or services out over its locations and
generates one page per pair. The controller admits jobs and dispatches page messages,
workers generate the pages, and the job finalizes once every page is accounted for.

Common workflows:

  See which pages a job would create:
    pagectl preview <business-id> --page-type keyword-service-area

  Start a job:
    pagectl create <business-id> --page-type keyword-service-area

  Follow a job until it finishes:
    pagectl status <job-id> --watch

  Inspect and retry failed pages:
    pagectl pages <job-id> --status failed
    pagectl retry <job-id> <page-id>

Configuration:
  Set the API endpoint via flag, environment variable or config file:
    PAGEGEN_URL    API endpoint (default: http://localhost:8080)`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".pagectl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".pagectl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "PAGEGEN_VARNAME"
	viper.SetEnvPrefix("PAGEGEN")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.pagectl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:8080", "pagegen controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
}

// printAPIError reports err in the command output.
func printAPIError(cmd *cobra.Command, err error) {
	if apiErr, ok := err.(*APIError); ok {
		cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
		return
	}
	cmd.Printf("Error: %v\n", err)
}
