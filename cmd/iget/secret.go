package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/qcekey/iget/internal/secrets"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage tokens in the OS keychain",
	Long: "Stores tokens in the OS keychain so they can stay out of config.yaml. " +
		"A value set in the config always wins over the keychain.\n\nAccounts: " + strings.Join(secrets.Accounts, ", "),
}

var secretSetCmd = &cobra.Command{
	Use:   "set <account> [value]",
	Short: "Store a secret (reads stdin when value is omitted)",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runSecretSet,
}

var secretDeleteCmd = &cobra.Command{
	Use:   "delete <account>",
	Short: "Remove a secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretDelete,
}

var secretListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show which accounts have a secret stored",
	Args:  cobra.NoArgs,
	RunE:  runSecretList,
}

func init() {
	rootCmd.AddCommand(secretCmd)
	secretCmd.AddCommand(secretSetCmd, secretDeleteCmd, secretListCmd)
}

func checkAccount(account string) error {
	if !slices.Contains(secrets.Accounts, account) {
		return fmt.Errorf("unknown account %q (want one of %s)", account, strings.Join(secrets.Accounts, ", "))
	}
	return nil
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	account := args[0]
	if err := checkAccount(account); err != nil {
		return err
	}

	var value string
	if len(args) == 2 {
		value = args[1]
	} else {
		fmt.Fprintf(os.Stderr, "Enter value for %s: ", account)
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read value: %w", err)
		}
		value = strings.TrimSpace(line)
	}

	if err := secrets.Set(account, value); err != nil {
		return err
	}
	fmt.Printf("Stored %s in the keychain.\n", account)
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	account := args[0]
	if err := checkAccount(account); err != nil {
		return err
	}
	if err := secrets.Delete(account); err != nil {
		if errors.Is(err, secrets.ErrNotFound) {
			fmt.Printf("%s is not stored.\n", account)
			return nil
		}
		return err
	}
	fmt.Printf("Removed %s from the keychain.\n", account)
	return nil
}

func runSecretList(cmd *cobra.Command, args []string) error {
	for _, account := range secrets.Accounts {
		status := "stored"
		if _, err := secrets.Get(account); errors.Is(err, secrets.ErrNotFound) {
			status = "not set"
		} else if err != nil {
			status = "error: " + err.Error()
		}
		fmt.Printf("%-22s %s\n", account, status)
	}
	return nil
}
