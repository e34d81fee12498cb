package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/credengine/internal/cli"
	"github.com/theirongolddev/credengine/internal/credit"
	"github.com/theirongolddev/credengine/internal/store"
)

var flagCreditUser int64

var creditCmd = &cobra.Command{
	Use:   "credit",
	Short: "Recompute and store the credit score of one registered user",
	Args:  cobra.NoArgs,
	RunE:  runCredit,
}

func init() {
	creditCmd.Flags().Int64Var(&flagCreditUser, "user", 0, "User id")
	_ = creditCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(creditCmd)
}

func runCredit(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	svc := credit.NewService(st, credit.WithLogger(newLogger()))
	res, err := svc.Refresh(ctx, flagCreditUser)
	if errors.Is(err, store.ErrUserNotFound) {
		return fmt.Errorf("no user with id %d", flagCreditUser)
	}
	if err != nil && !errors.Is(err, credit.ErrNotPersisted) {
		return err
	}

	r := res.Record
	fmt.Println()
	fmt.Print(cli.RenderTable(cli.Table{
		Title:   fmt.Sprintf("Credit score for user %d", r.UserID),
		Headers: []string{"Metric", "Value"},
		Rows: [][]string{
			{"Score", fmt.Sprintf("%d", r.Score)},
			{"Band", cli.RenderBand(r.Band, false)},
			{"---"},
			{"Monthly income", cli.FormatMoney(res.DisplayIncome)},
			{"Expenses this month", cli.FormatMoney(res.Totals.MonthExpenses)},
			{"Total EMI", cli.FormatMoney(res.Totals.TotalEMI)},
			{"Residual savings", cli.FormatMoney(r.ResidualSavings)},
			{"---"},
			{"Debt-to-income", cli.FormatRatio(r.DTI)},
			{"Savings rate", cli.FormatPercent(r.SavingsRate)},
		},
	}))

	if err != nil {
		fmt.Println(cli.RenderWarning("Score computed but not saved: " + err.Error()))
	}
	return nil
}
