package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Luneo19/luneo-platform-sub027/models"
	"github.com/Luneo19/luneo-platform-sub027/services"
	"github.com/Luneo19/luneo-platform-sub027/worker"
)

var (
	enqueueModelID   string
	enqueueSourceURL string
	enqueueSource    string
	enqueueTarget    string
	enqueueOptimize  bool
	enqueueID        string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Enqueue a conversion job",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		source, err := models.ParseFormat(enqueueSource)
		if err != nil {
			return err
		}
		target, err := models.ParseFormat(enqueueTarget)
		if err != nil {
			return err
		}

		id := enqueueID
		if id == "" {
			id = uuid.NewString()
		}

		job := &models.ConversionJob{
			ConversionID: id,
			ModelID:      enqueueModelID,
			SourceFormat: source,
			TargetFormat: target,
			SourceURL:    enqueueSourceURL,
			Optimize:     enqueueOptimize,
			MaxRetries:   cfg.MaxRetries,
			EnqueuedAt:   time.Now(),
		}

		dbSvc, err := services.NewDatabaseService(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer dbSvc.Close()

		if err := dbSvc.InsertJob(ctx, job); err != nil {
			return fmt.Errorf("insert job record: %w", err)
		}

		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()

		if err := worker.Enqueue(ctx, rdb, cfg, job); err != nil {
			return err
		}

		fmt.Printf("enqueued conversion %s (%s -> %s)\n", id, source, target)
		return nil
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueModelID, "model-id", "", "owning 3D model id")
	enqueueCmd.Flags().StringVar(&enqueueSourceURL, "source-url", "", "fetchable URL of the input asset")
	enqueueCmd.Flags().StringVar(&enqueueSource, "source", "", "source format (fbx|obj|gltf|glb)")
	enqueueCmd.Flags().StringVar(&enqueueTarget, "target", "", "target format (gltf|glb|usdz|draco)")
	enqueueCmd.Flags().BoolVar(&enqueueOptimize, "optimize", false, "run optimization stages")
	enqueueCmd.Flags().StringVar(&enqueueID, "id", "", "conversion id (generated when empty)")
	_ = enqueueCmd.MarkFlagRequired("model-id")
	_ = enqueueCmd.MarkFlagRequired("source-url")
	_ = enqueueCmd.MarkFlagRequired("source")
	_ = enqueueCmd.MarkFlagRequired("target")
	rootCmd.AddCommand(enqueueCmd)
}
