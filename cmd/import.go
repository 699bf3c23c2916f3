package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/kozaktomas/face-attendance/internal/database/mongo"
	"github.com/kozaktomas/face-attendance/internal/identity"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <export.json>",
	Short: "Import records and faces from a desktop app export",
	Long: `Import a JSON export of the desktop kiosk app ({"records": [...], "faces": [...]})
into the configured storage. Records replace stored records of the same day
and person. Face descriptors are added to existing profiles; importing the
same file twice does not duplicate them.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().Bool("dry-run", false, "Parse and report without writing")
}

func runImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open export: %w", err)
	}
	defer f.Close()

	exp, err := mongo.ReadExport(f)
	if err != nil {
		return err
	}
	fmt.Printf("Export contains %d records and %d face profiles\n", len(exp.Records), len(exp.Profiles))
	if mustGetBool(cmd, "dry-run") {
		return nil
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := openApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	bar := progressbar.NewOptions(len(exp.Records)+len(exp.Profiles),
		progressbar.OptionSetDescription("Importing"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	var errs []error
	var records, added int
	for _, rec := range exp.Records {
		if err := a.backend.Records.UpsertRecord(ctx, rec); err != nil {
			errs = append(errs, err)
		} else {
			records++
		}
		bar.Add(1)
	}

	for _, p := range exp.Profiles {
		merged, n := p, len(p.Samples)
		if stored, ok := a.gallery.Get(p.Identity); ok {
			merged, n = identity.MergeSamples(stored, p)
		}
		if n > 0 {
			if err := a.backend.Profiles.UpsertProfile(ctx, merged); err != nil {
				errs = append(errs, err)
			} else {
				added += n
			}
		}
		bar.Add(1)
	}
	bar.Finish()
	fmt.Println()

	fmt.Printf("Imported %d records and %d new face samples\n", records, added)
	if len(errs) > 0 {
		return fmt.Errorf("%d items failed to import: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
