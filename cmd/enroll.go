package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kozaktomas/face-attendance/internal/detection"
	"github.com/kozaktomas/face-attendance/internal/identity"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <identity> <image>...",
	Short: "Enroll a person from photos",
	Long: `Detect the face in each image and add its descriptor to the identity's
profile. Images without a detectable face are skipped. Several photos taken
in different light improve recognition.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)
}

func runEnroll(cmd *cobra.Command, args []string) error {
	name := identity.NormalizeIdentity(args[0])
	if name == "" {
		return errors.New("identity is required")
	}
	images := args[1:]

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

	detector := detection.NewClient(cfg.Detection)
	if err := detector.Health(ctx); err != nil {
		return fmt.Errorf("face detector not reachable at %s: %w", cfg.Detection.URL, err)
	}

	bar := progressbar.NewOptions(len(images),
		progressbar.OptionSetDescription("Enrolling "+name),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	var enrolled int
	var skipped []string
	var persistErr error
	for _, path := range images {
		data, err := os.ReadFile(path)
		if err != nil {
			bar.Add(1)
			skipped = append(skipped, fmt.Sprintf("%s: %v", path, err))
			continue
		}

		descriptor, found, err := detector.Detect(ctx, data)
		switch {
		case err != nil:
			skipped = append(skipped, fmt.Sprintf("%s: %v", filepath.Base(path), err))
		case !found:
			skipped = append(skipped, fmt.Sprintf("%s: no face found", filepath.Base(path)))
		default:
			if _, err := a.gallery.Enroll(ctx, name, descriptor); err != nil {
				if !errors.Is(err, identity.ErrPersistence) {
					bar.Finish()
					return fmt.Errorf("failed to enroll %s: %w", path, err)
				}
				persistErr = err
			}
			enrolled++
		}
		bar.Add(1)
	}
	bar.Finish()
	fmt.Println()

	for _, s := range skipped {
		fmt.Printf("  skipped %s\n", s)
	}
	p, _ := a.gallery.Get(name)
	fmt.Printf("Enrolled %d of %d images; %s now has %d samples\n", enrolled, len(images), name, len(p.Samples))

	if persistErr != nil {
		if _, err := a.gallery.Resync(ctx); err != nil {
			return fmt.Errorf("profile not stored: %w", err)
		}
	}
	if enrolled == 0 {
		return errors.New("no face could be enrolled")
	}
	return nil
}
