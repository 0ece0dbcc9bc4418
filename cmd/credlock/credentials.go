package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize key store",
	Long:  "Create the credlock keychain. It locks when the machine sleeps and after the configured idle interval. Run once per machine.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, cleanup, err := newRunner(cmd, "cli")
		if err != nil {
			return err
		}
		defer cleanup()

		if err := runner.Init(); err != nil {
			return err
		}
		printSuccess("Key store initialized")
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <profile>",
	Short: "Gets a set of credentials",
	Long:  "Print the credentials stored for a profile in the credential process JSON format.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, cleanup, err := newRunner(cmd, "credential_process")
		if err != nil {
			return err
		}
		defer cleanup()
		return runner.Get(args[0])
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List credential profiles stored in the key store",
	Aliases: []string{"ls"},
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, cleanup, err := newRunner(cmd, "cli")
		if err != nil {
			return err
		}
		defer cleanup()
		return runner.List()
	},
}

var addCmd = &cobra.Command{
	Use:     "add-credentials <profile>",
	Short:   "Add a set of credentials to the key store",
	Long:    "Store an access key for a profile. Prompts for the access key id and secret access key; when stdin is not a terminal, reads them from its first two lines.",
	Aliases: []string{"add"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profile := args[0]
		accessKeyID, secretAccessKey, err := promptCredentials(os.Stdin)
		if err != nil {
			return err
		}

		runner, cleanup, err := newRunner(cmd, "cli")
		if err != nil {
			return err
		}
		defer cleanup()

		if err := runner.Add(profile, accessKeyID, secretAccessKey); err != nil {
			return err
		}
		printSuccess(fmt.Sprintf("Credentials stored for profile %q", profile))
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:     "remove-credentials <profile>",
	Short:   "Remove a set of credentials from the key store",
	Aliases: []string{"remove", "rm"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, cleanup, err := newRunner(cmd, "cli")
		if err != nil {
			return err
		}
		defer cleanup()

		if err := runner.Remove(args[0]); err != nil {
			return err
		}
		printSuccess(fmt.Sprintf("Credentials removed for profile %q", args[0]))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(removeCmd)
}
