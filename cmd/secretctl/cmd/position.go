package cmd

import (
	"net/http"

	"github.com/spf13/cobra"
)

var (
	openCiphertexts []string
	openProof       string
)

var openCmd = &cobra.Command{
	Use:   "open <instrument>",
	Short: "Open a directional position with encrypted inputs",
	Long: `Open a position on an instrument.

The direction and quantity are submitted as base64 ciphertexts bound
to the ledger contract, produced by the client-side encryption SDK.
Pass the direction ciphertext first, then the quantity ciphertext:

  secretctl open TOKENA \
      --ciphertext <direction-b64> \
      --ciphertext <quantity-b64> \
      --proof <proof-b64> \
      --caller 0xalice`,
	Args: cobra.ExactArgs(1),
	RunE: runOpen,
}

var closeCmd = &cobra.Command{
	Use:   "close <direction> <quantity>",
	Short: "Close the active position by revealing direction and quantity",
	Long: `Close the caller's active position.

The revealed plaintext direction (1 = long, 2 = short) and quantity
must match the ciphertexts submitted at open, otherwise the close is
rejected and the position stays active.`,
	Args: cobra.ExactArgs(2),
	RunE: runClose,
}

var statusCmd = &cobra.Command{
	Use:   "status <address>",
	Short: "Show the active position of an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(closeCmd)
	rootCmd.AddCommand(statusCmd)

	openCmd.Flags().StringArrayVar(&openCiphertexts, "ciphertext", nil, "base64 ciphertext (direction first, then quantity)")
	openCmd.Flags().StringVar(&openProof, "proof", "", "base64 input proof")
	openCmd.MarkFlagRequired("ciphertext")
	openCmd.MarkFlagRequired("proof")
}

func runOpen(cmd *cobra.Command, args []string) error {
	resp, err := doRequest(http.MethodPost, "/v1/positions", map[string]interface{}{
		"instrument":  args[0],
		"ciphertexts": openCiphertexts,
		"proof":       openProof,
	})
	if err != nil {
		return err
	}

	printJSON(resp)
	return nil
}

func runClose(cmd *cobra.Command, args []string) error {
	direction, err := parseAmount(args[0])
	if err != nil {
		return err
	}
	quantity, err := parseAmount(args[1])
	if err != nil {
		return err
	}

	resp, err := doRequest(http.MethodPost, "/v1/positions/close", map[string]uint64{
		"direction": direction,
		"quantity":  quantity,
	})
	if err != nil {
		return err
	}

	printJSON(resp)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	resp, err := doRequest(http.MethodGet, "/v1/positions/"+args[0], nil)
	if err != nil {
		return err
	}

	printJSON(resp)
	return nil
}
