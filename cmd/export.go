package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"

	"github.com/tcc-deals/dealsync/internal/history"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export current deals to an xlsx workbook",
	Long:  "Writes the latest on-sale observation per item, best discounts first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		out, _ := cmd.Flags().GetString("out")

		pool, err := syncPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		deals, err := history.NewStore(pool).ActiveDeals(ctx)
		if err != nil {
			return eris.Wrap(err, "export: query deals")
		}

		if err := writeDealsXLSX(out, deals); err != nil {
			return err
		}

		fmt.Printf("Wrote %d deals to %s\n", len(deals), out)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("out", "deals.xlsx", "output file path")
	rootCmd.AddCommand(exportCmd)
}

// writeDealsXLSX writes the deal list to an xlsx workbook with a header row.
func writeDealsXLSX(path string, deals []history.Deal) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Deals")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"SKU", "Merchant", "Product", "Date", "Price", "Discount %"} {
		header.AddCell().SetString(h)
	}

	for _, d := range deals {
		row := sheet.AddRow()
		row.AddCell().SetString(d.ProductSKU)
		row.AddCell().SetInt64(d.MerchantID)
		row.AddCell().SetString(d.ProductName)
		row.AddCell().SetString(d.RecordedDate)
		row.AddCell().SetFloat(d.Price)
		row.AddCell().SetInt(d.DiscountPercent)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}
