package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tcc-deals/dealsync/internal/registry"
	"github.com/tcc-deals/dealsync/internal/syncer"
)

var syncPopulateCmd = &cobra.Command{
	Use:   "populate",
	Short: "Load items into the registry",
	Long: `Reads a JSON product list and inserts one pending registry row per item.
Items already tracked keep their state; populate never resets progress.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		file, _ := cmd.Flags().GetString("file")
		merchant, _ := cmd.Flags().GetInt64("merchant")
		if file == "" {
			return eris.New("sync populate: --file is required")
		}

		items, err := readProductFile(file, merchant)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No items to load")
			return nil
		}

		pool, err := syncPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := syncer.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "sync populate: migrate")
		}

		inserted, err := registry.NewStore(pool).Populate(ctx, items)
		if err != nil {
			return eris.Wrap(err, "sync populate")
		}

		fmt.Printf("Loaded %d items (%d new, %d already tracked)\n",
			len(items), inserted, int64(len(items))-inserted)
		return nil
	},
}

func init() {
	syncPopulateCmd.Flags().String("file", "", "JSON file with [{sku, merchant_id, product_name}]")
	syncPopulateCmd.Flags().Int64("merchant", 0, "only load items for this merchant id")
	syncCmd.AddCommand(syncPopulateCmd)
}

// readProductFile parses the product list, optionally filtered by merchant.
func readProductFile(path string, merchant int64) ([]registry.NewItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "sync populate: read %s", path)
	}

	var all []registry.NewItem
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, eris.Wrapf(err, "sync populate: parse %s", path)
	}

	items := make([]registry.NewItem, 0, len(all))
	for _, it := range all {
		if it.SKU == "" || it.MerchantID == 0 {
			return nil, eris.Errorf("sync populate: item missing sku or merchant_id: %+v", it)
		}
		if merchant != 0 && it.MerchantID != merchant {
			continue
		}
		items = append(items, it)
	}
	return items, nil
}
