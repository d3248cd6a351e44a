package main

import (
	"github.com/spf13/cobra"

	"github.com/itsbakr/weave-tutor/pkg/debug"
)

var (
	configPath  string
	logLevel    string
	debugFlags  string
	deployFile  string
	deployTopic string
	sessionKey  string
	maxAttempts int
	keepSandbox bool

	rootCmd = &cobra.Command{
		Use:           "tutorctl",
		Short:         "Classify build logs and run the tutorpilot deploy loop",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			debug.Init(debug.Options{Categories: debugFlags, Level: logLevel})
		},
	}

	classifyCmd = &cobra.Command{
		Use:   "classify [file]",
		Short: "Report whether log output contains an error and its category",
		Long: `Reads build or dev server output from the named file, or from
standard input when no file is given, and prints the classification as JSON.
Exits with status 2 when the output contains an error.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runClassify, // Defined in cmd_classify.go
	}

	deployCmd = &cobra.Command{
		Use:   "deploy",
		Short: "Deploy a React component and repair it until it runs",
		Long: `Runs the deploy, observe and repair loop on the component in --file
using the sandbox runtime and generator from the service configuration.
On success the preview stays up until interrupted, unless --keep is set.`,
		Args: cobra.NoArgs,
		RunE: runDeploy, // Defined in cmd_deploy.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&debugFlags, "debug", "", "comma separated debug categories")

	deployCmd.Flags().StringVarP(&deployFile, "file", "f", "", "path to the App.jsx source")
	deployCmd.Flags().StringVar(&deployTopic, "topic", "", "activity topic, used in repair prompts")
	deployCmd.Flags().StringVar(&sessionKey, "session", "cli", "session key used to name the sandbox")
	deployCmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "deploy attempts including the first (default from config)")
	deployCmd.Flags().BoolVar(&keepSandbox, "keep", false, "leave the sandbox running and exit")
	deployCmd.Flags().StringVar(&configPath, "config", "", "path to the YAML config file")
	_ = deployCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(classifyCmd, deployCmd)
}
