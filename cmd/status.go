package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Luneo19/luneo-platform-sub027/services"
)

var statusCmd = &cobra.Command{
	Use:   "status <conversion-id>",
	Short: "Show the status of a conversion job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		dbSvc, err := services.NewDatabaseService(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer dbSvc.Close()

		js, err := dbSvc.GetJob(ctx, args[0])
		if err != nil {
			return fmt.Errorf("lookup conversion %s: %w", args[0], err)
		}

		fmt.Printf("conversion: %s\n", js.ID)
		fmt.Printf("model:      %s\n", js.ModelID)
		fmt.Printf("status:     %s\n", js.Status)
		fmt.Printf("progress:   %d%%\n", js.Progress)
		if js.ResultURL.Valid {
			fmt.Printf("result:     %s\n", js.ResultURL.String)
		}
		if js.CompressionRatio.Valid {
			fmt.Printf("ratio:      %.3f\n", js.CompressionRatio.Float64)
		}
		if js.QualityScore.Valid {
			fmt.Printf("quality:    %.2f\n", js.QualityScore.Float64)
		}
		if js.ErrorMessage.Valid {
			fmt.Printf("error:      %s\n", js.ErrorMessage.String)
		}
		if js.ProcessingTimeMs.Valid {
			fmt.Printf("took:       %dms\n", js.ProcessingTimeMs.Int64)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
