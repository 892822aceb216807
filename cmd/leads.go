package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/fintech-crm/lead-engine/internal/filter"
)

var (
	leadsPage     int
	leadsPageSize int
	leadsParams   filter.Params
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Print one page of combined leads as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		if leadsPage < 1 {
			return eris.New("--page must be >= 1")
		}
		if leadsPageSize < 1 || leadsPageSize > cfg.Leads.MaxPageSize {
			return eris.Errorf("--page-size must be between 1 and %d", cfg.Leads.MaxPageSize)
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx, "leads")
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := env.Leads.GetCombinedLeads(ctx, leadsParams, leadsPage, leadsPageSize)
		if err != nil {
			return eris.Wrap(err, "combined leads")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	f := leadsCmd.Flags()
	f.IntVar(&leadsPage, "page", 1, "page number")
	f.IntVar(&leadsPageSize, "page-size", 10, "leads per page")
	f.StringVar(&leadsParams.Search, "search", "", "free-text search")
	f.StringVar(&leadsParams.DateRange, "date-range", "", "named range (last_7_days, last_30_days, ...)")
	f.StringVar(&leadsParams.DateFrom, "date-from", "", "custom range start (RFC 3339 or YYYY-MM-DD)")
	f.StringVar(&leadsParams.DateTo, "date-to", "", "custom range end (RFC 3339 or YYYY-MM-DD)")
	f.StringVar(&leadsParams.LoanAmount, "loan-amount", "", "loan amount buckets, comma-separated")
	f.StringVar(&leadsParams.EmploymentType, "employment-type", "", "employment types, comma-separated")
	f.StringVar(&leadsParams.CIBILScore, "cibil-score", "", "CIBIL buckets, comma-separated")
	f.StringSliceVar(&leadsParams.Sources, "source", nil, "lead sources (website expands to beehiiv, strapi_loan, strapi_cibil)")
	rootCmd.AddCommand(leadsCmd)
}
