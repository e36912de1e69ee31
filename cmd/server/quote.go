package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/warp/parametric-cover/cover"
)

func newQuoteCommand() *cobra.Command {
	var premium, start, end, at uint64

	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Compute the prorated refund for a cancellation",
		RunE: func(cmd *cobra.Command, args []string) error {
			refund, err := cover.Refund(cover.Amount(premium), cover.BlockHeight(start), cover.BlockHeight(end), cover.BlockHeight(at))
			if err != nil {
				return fmt.Errorf("quote: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), uint64(refund))
			return nil
		},
	}

	cmd.Flags().Uint64Var(&premium, "premium", 0, "premium paid at issuance")
	cmd.Flags().Uint64Var(&start, "start", 0, "policy start block")
	cmd.Flags().Uint64Var(&end, "end", 0, "policy end block")
	cmd.Flags().Uint64Var(&at, "at", 0, "cancellation block")
	cmd.MarkFlagRequired("premium")
	cmd.MarkFlagRequired("end")
	cmd.MarkFlagRequired("at")

	return cmd
}
