package cmd

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"
)

var depositCmd = &cobra.Command{
	Use:   "deposit <address> <amount>",
	Short: "Credit custody funds to an account",
	Args:  cobra.ExactArgs(2),
	RunE:  runDeposit,
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw <address> <amount>",
	Short: "Withdraw custody funds from an account",
	Args:  cobra.ExactArgs(2),
	RunE:  runWithdraw,
}

var balanceCmd = &cobra.Command{
	Use:   "balance <address>",
	Short: "Show the encrypted balance handle of an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runBalance,
}

func init() {
	rootCmd.AddCommand(depositCmd)
	rootCmd.AddCommand(withdrawCmd)
	rootCmd.AddCommand(balanceCmd)
}

func parseAmount(s string) (uint64, error) {
	amount, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount must be a non-negative integer: %w", err)
	}
	return amount, nil
}

func runDeposit(cmd *cobra.Command, args []string) error {
	amount, err := parseAmount(args[1])
	if err != nil {
		return err
	}

	resp, err := doRequest(http.MethodPost, "/v1/accounts/"+args[0]+"/deposit",
		map[string]uint64{"amount": amount})
	if err != nil {
		return err
	}

	printJSON(resp)
	return nil
}

func runWithdraw(cmd *cobra.Command, args []string) error {
	amount, err := parseAmount(args[1])
	if err != nil {
		return err
	}

	resp, err := doRequest(http.MethodPost, "/v1/accounts/"+args[0]+"/withdraw",
		map[string]uint64{"amount": amount})
	if err != nil {
		return err
	}

	printJSON(resp)
	return nil
}

func runBalance(cmd *cobra.Command, args []string) error {
	resp, err := doRequest(http.MethodGet, "/v1/accounts/"+args[0]+"/balance", nil)
	if err != nil {
		return err
	}

	printJSON(resp)
	return nil
}
