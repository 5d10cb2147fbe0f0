package cmd

import (
	"net/http"

	"github.com/spf13/cobra"
)

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "Manage the owner price table",
	Long: `Query and update instrument prices.

Subcommands:
  set   - Set the price of an instrument (owner only)
  get   - Get the price of an instrument
  list  - List all instruments with a recorded price

Examples:
  secretctl price set TOKENA 5787 --caller 0xowner
  secretctl price get TOKENA
  secretctl price list`,
}

var priceSetCmd = &cobra.Command{
	Use:   "set <instrument> <price>",
	Short: "Set the price of an instrument (owner only)",
	Args:  cobra.ExactArgs(2),
	RunE:  runPriceSet,
}

var priceGetCmd = &cobra.Command{
	Use:   "get <instrument>",
	Short: "Get the price of an instrument",
	Args:  cobra.ExactArgs(1),
	RunE:  runPriceGet,
}

var priceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all instruments with a recorded price",
	Args:  cobra.NoArgs,
	RunE:  runPriceList,
}

var ownershipCmd = &cobra.Command{
	Use:   "transfer-ownership <new-owner>",
	Short: "Hand the price table to a new owner (owner only)",
	Args:  cobra.ExactArgs(1),
	RunE:  runTransferOwnership,
}

func init() {
	rootCmd.AddCommand(priceCmd)
	priceCmd.AddCommand(priceSetCmd)
	priceCmd.AddCommand(priceGetCmd)
	priceCmd.AddCommand(priceListCmd)
	rootCmd.AddCommand(ownershipCmd)
}

func runPriceSet(cmd *cobra.Command, args []string) error {
	price, err := parseAmount(args[1])
	if err != nil {
		return err
	}

	resp, err := doRequest(http.MethodPut, "/v1/admin/prices/"+args[0],
		map[string]uint64{"price": price})
	if err != nil {
		return err
	}

	printJSON(resp)
	return nil
}

func runPriceGet(cmd *cobra.Command, args []string) error {
	resp, err := doRequest(http.MethodGet, "/v1/prices/"+args[0], nil)
	if err != nil {
		return err
	}

	printJSON(resp)
	return nil
}

func runPriceList(cmd *cobra.Command, args []string) error {
	resp, err := doRequest(http.MethodGet, "/v1/prices", nil)
	if err != nil {
		return err
	}

	printJSON(resp)
	return nil
}

func runTransferOwnership(cmd *cobra.Command, args []string) error {
	resp, err := doRequest(http.MethodPost, "/v1/admin/ownership",
		map[string]string{"new_owner": args[0]})
	if err != nil {
		return err
	}

	printJSON(resp)
	return nil
}
