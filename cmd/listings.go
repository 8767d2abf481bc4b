package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/coder895/car-market-analyzer/internal/model"
)

var (
	listMake     string
	listModel    string
	listStatus   string
	listSearch   string
	listPriceMin float64
	listPriceMax float64
	listYearMin  int
	listYearMax  int
	listSortBy   string
	listOrder    string
	listLimit    int
	listOffset   int
)

func listingFilterFromFlags() model.ListingFilter {
	f := model.ListingFilter{
		Make:       listMake,
		Model:      listModel,
		Status:     listStatus,
		SearchTerm: listSearch,
	}
	if listPriceMin > 0 {
		f.PriceMin = &listPriceMin
	}
	if listPriceMax > 0 {
		f.PriceMax = &listPriceMax
	}
	if listYearMin > 0 {
		f.YearMin = &listYearMin
	}
	if listYearMax > 0 {
		f.YearMax = &listYearMax
	}
	return f
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var listingsCmd = &cobra.Command{
	Use:   "listings",
	Short: "Query stored listings",
}

var listingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List listings matching the filter flags",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		order := model.SortDesc
		if listOrder == "asc" {
			order = model.SortAsc
		}

		listings, err := env.Store.ListListings(ctx, listingFilterFromFlags(), listSortBy, order, listLimit, listOffset)
		if err != nil {
			return eris.Wrap(err, "list listings")
		}
		return printJSON(listings)
	},
}

var listingsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Fetch one listing by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		l, err := env.Store.GetListing(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "get listing")
		}
		if l == nil {
			return eris.Errorf("listing %s not found", args[0])
		}
		return printJSON(l)
	},
}

var listingsCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Count listings matching the filter flags",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Store.CountListings(ctx, listingFilterFromFlags())
		if err != nil {
			return eris.Wrap(err, "count listings")
		}
		return printJSON(map[string]int{"count": n})
	},
}

var makesCmd = &cobra.Command{
	Use:   "makes",
	Short: "List known makes, or models when --make is set",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if listMake != "" {
			models, err := env.Store.ModelsForMake(ctx, listMake)
			if err != nil {
				return eris.Wrap(err, "list models")
			}
			return printJSON(models)
		}

		makes, err := env.Store.Makes(ctx)
		if err != nil {
			return eris.Wrap(err, "list makes")
		}
		return printJSON(makes)
	},
}

var yearsCmd = &cobra.Command{
	Use:   "years",
	Short: "Show the year range covered by stored listings",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		lo, hi, err := env.Store.YearRange(ctx, listMake, listModel)
		if err != nil {
			return eris.Wrap(err, "year range")
		}
		return printJSON(map[string]int{"min": lo, "max": hi})
	},
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&listMake, "make", "", "filter by make")
	cmd.Flags().StringVar(&listModel, "model", "", "filter by model")
	cmd.Flags().StringVar(&listStatus, "status", "", "filter by status (active/inactive/archived/all)")
	cmd.Flags().StringVar(&listSearch, "search", "", "search term over title, make, and model")
	cmd.Flags().Float64Var(&listPriceMin, "price-min", 0, "minimum price")
	cmd.Flags().Float64Var(&listPriceMax, "price-max", 0, "maximum price")
	cmd.Flags().IntVar(&listYearMin, "year-min", 0, "minimum year")
	cmd.Flags().IntVar(&listYearMax, "year-max", 0, "maximum year")
}

func init() {
	addFilterFlags(listingsListCmd)
	listingsListCmd.Flags().StringVar(&listSortBy, "sort", "listing_date", "sort column")
	listingsListCmd.Flags().StringVar(&listOrder, "order", "desc", "sort order (asc/desc)")
	listingsListCmd.Flags().IntVar(&listLimit, "limit", 50, "page size")
	listingsListCmd.Flags().IntVar(&listOffset, "offset", 0, "page offset")

	addFilterFlags(listingsCountCmd)

	makesCmd.Flags().StringVar(&listMake, "make", "", "list models for this make")
	yearsCmd.Flags().StringVar(&listMake, "make", "", "restrict to make")
	yearsCmd.Flags().StringVar(&listModel, "model", "", "restrict to model")

	listingsCmd.AddCommand(listingsListCmd, listingsGetCmd, listingsCountCmd)
	rootCmd.AddCommand(listingsCmd, makesCmd, yearsCmd)
}
