package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"S2CoastalBot/internal/app"
	"S2CoastalBot/internal/domain"
	"S2CoastalBot/internal/infrastructure/storage"
)

var (
	postedLimit    int
	importPlatform string
)

var postedCmd = &cobra.Command{
	Use:   "posted",
	Short: "Inspect the posted-record store",
}

var postedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent posts",
	RunE:  runPostedList,
}

var postedImportCmd = &cobra.Command{
	Use:   "import <posted_images.csv>",
	Short: "Import a legacy date,product CSV into the store",
	Long:  "Import a legacy date,product CSV into the store. Rows are stored one by one: a malformed row stops the import after the rows before it were kept. Fix the row and run the import again; acquisitions already recorded are skipped.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPostedImport,
}

func init() {
	rootCmd.AddCommand(postedCmd)
	postedCmd.AddCommand(postedListCmd)
	postedCmd.AddCommand(postedImportCmd)

	postedListCmd.Flags().IntVarP(&postedLimit, "limit", "n", 20, "Maximum number of records to show")
	postedImportCmd.Flags().StringVar(&importPlatform, "platform", string(domain.PlatformMastodon), "Platform the legacy posts were made on")
}

func runPostedList(cmd *cobra.Command, _ []string) error {
	cfg, logger, closer, err := loadRuntime()
	if err != nil {
		return err
	}
	defer closer.Close()

	repo, _, err := app.OpenStore(cmd.Context(), cfg)
	if err != nil {
		logger.Error("open store", "error", err)
		return err
	}
	defer repo.Close()

	records, err := repo.List(cmd.Context(), postedLimit)
	if err != nil {
		return err
	}
	return printRecords(cmd.OutOrStdout(), records)
}

func runPostedImport(cmd *cobra.Command, args []string) error {
	cfg, logger, closer, err := loadRuntime()
	if err != nil {
		return err
	}
	defer closer.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	repo, locker, err := app.OpenStore(cmd.Context(), cfg)
	if err != nil {
		logger.Error("open store", "error", err)
		return err
	}
	defer repo.Close()

	unlock, err := locker.Lock(cmd.Context())
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer func() { _ = unlock() }()

	n, err := storage.ImportLegacyCSV(cmd.Context(), repo, f, domain.Platform(importPlatform), "import-"+uuid.NewString())
	if err != nil {
		logger.Error("legacy import stopped, fix the row and re-run", "file", args[0], "records", n, "error", err)
		return err
	}
	logger.Info("legacy records imported", "file", args[0], "records", n)
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d records imported\n", n)
	return nil
}

func printRecords(w io.Writer, records []domain.PostedRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "POSTED\tPLATFORM\tTILE\tACQUISITION\tURL")
	for _, r := range records {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.PostedAt.Format(time.RFC3339), r.Platform, r.TileID, r.AcquisitionID, r.PostURL)
	}
	return tw.Flush()
}
