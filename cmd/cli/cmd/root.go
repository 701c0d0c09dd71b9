package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "jobctl",
	Short: "Jobctl is a command line tool for the jobrunner controller",
	Long: `jobctl talks to a jobrunner controller over its HTTP API.

A submission is a job and, optionally, a tree of jobs that run after it
completes. Submitting a job whose name and arguments match an existing job
returns that job instead, and a job whose name is still in progress is
returned rather than started twice.

Common workflows:

  Submit a job with arguments:
    jobctl submit --name sleep --arg duration=2s

  Submit a tree from a file:
    jobctl submit --file pipeline.yaml

  Follow a job and everything that runs after it:
    jobctl status 42
    jobctl deps 42

  Stop a job and the jobs waiting on it:
    jobctl stop 42

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    JOBRUNNER_URL      API endpoint (default: http://localhost:6161)
    JOBRUNNER_TOKEN    API token, when the controller requires one`,
	SilenceUsage: true,
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

		// Search config in home directory with name ".jobctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".jobctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "JOBRUNNER_VARNAME"
	viper.SetEnvPrefix("JOBRUNNER")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.jobctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "jobrunner controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "API token for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))

	rootCmd.PersistentFlags().StringP("output", "o", "text", "output format: text, json or yaml")
}

// newClient builds a client from the resolved url and token.
func newClient() *JobClient {
	return NewJobClient(viper.GetString("url"), viper.GetString("token"))
}
