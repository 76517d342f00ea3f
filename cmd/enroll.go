package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/kozaktomas/attendance-kiosk/internal/constants"
	"github.com/kozaktomas/attendance-kiosk/internal/database"
	"github.com/kozaktomas/attendance-kiosk/internal/enrollment"
	"github.com/kozaktomas/attendance-kiosk/internal/face"
	"github.com/kozaktomas/attendance-kiosk/internal/vision"
	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <name> <photo>...",
	Short: "Enroll an employee from reference photos",
	Long: `Detect the face in each reference photo, compute its embedding and store it
for the employee. Photos whose face is smaller than KIOSK_MIN_FACE_SIZE are
rejected. A warning is printed when a new face is already close to another
enrolled employee.

Without --id a new employee ID is generated. Repeating the command with an
existing --id adds more reference photos.

Examples:
  # Enroll a new employee
  attendance-kiosk enroll "Alice Smith" photos/alice/*.jpg

  # Add photos to an existing employee in a branch
  attendance-kiosk enroll "Alice Smith" photos/alice-2.jpg --id emp-001 --branch prague`,
	Args: cobra.MinimumNArgs(2),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("id", "", "Employee ID (generated when empty)")
	enrollCmd.Flags().String("org", "", "Organization ID (defaults to KIOSK_ORG_ID)")
	enrollCmd.Flags().String("branch", "", "Branch ID (defaults to KIOSK_BRANCH_ID)")
	enrollCmd.Flags().Int("concurrency", constants.DefaultConcurrency, "Number of parallel workers")
	enrollCmd.Flags().Float64("near-duplicate-distance", database.DefaultNearDuplicateDistance,
		"Cosine distance under which another employee's face is reported")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	name := args[0]
	photos := args[1:]

	id := mustGetString(cmd, "id")
	if id == "" {
		id = uuid.NewString()
	}
	orgID := mustGetString(cmd, "org")
	if orgID == "" {
		orgID = cfg.Kiosk.OrgID
	}
	branchID := mustGetString(cmd, "branch")
	if branchID == "" {
		branchID = cfg.Kiosk.BranchID
	}
	concurrency := mustGetInt(cmd, "concurrency")
	if concurrency < 1 {
		concurrency = 1
	}

	ctx := context.Background()
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	initIdentityHNSW(ctx, b.identities, cfg.Database.HNSWIndexPath)
	defer saveHNSWIndex()

	writer, err := database.GetIdentityWriter(ctx)
	if err != nil {
		return err
	}

	enroller := enrollment.New(
		vision.NewDetectorClient(cfg.Detector.URL),
		vision.NewEmbeddingClient(cfg.Embedding.URL, cfg.Embedding.Model, cfg.Embedding.Dim),
		writer,
		enrollment.Options{
			MinFaceSize:           cfg.Kiosk.MinFaceSize,
			MaxImageSize:          constants.MaxImageSize,
			NearDuplicateDistance: mustGetFloat64(cmd, "near-duplicate-distance"),
			NearDuplicateLimit:    constants.DefaultNearDuplicateLimit,
		},
	)

	identity := &database.EnrolledIdentity{ID: id, Name: name, OrgID: orgID, BranchID: branchID}
	if err := enroller.EnsureIdentity(ctx, identity); err != nil {
		return err
	}
	fmt.Printf("Enrolling %s (%s) from %d photos\n\n", name, id, len(photos))

	bar := progressbar.NewOptions(len(photos),
		progressbar.OptionSetDescription("Enrolling photos"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	var successCount, rejectedCount, errorCount int
	var warnings []string
	var mu sync.Mutex

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, photo := range photos {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			defer bar.Add(1)

			imageData, err := os.ReadFile(path) //nolint:gosec // paths come from the operator
			if err == nil {
				var result *enrollment.Result
				result, err = enroller.EnrollPhoto(ctx, id, imageData)
				if err == nil {
					mu.Lock()
					successCount++
					for _, dup := range result.NearDuplicates {
						warnings = append(warnings, fmt.Sprintf("%s: close to %s (distance %.3f)",
							filepath.Base(path), dup.IdentityID, dup.Distance))
					}
					mu.Unlock()
					return
				}
			}

			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, enrollment.ErrNoFace) || errors.Is(err, face.ErrFaceTooSmall) {
				rejectedCount++
				warnings = append(warnings, fmt.Sprintf("%s: rejected: %v", filepath.Base(path), err))
				return
			}
			errorCount++
			log.WithError(err).WithField("photo", path).Debug("Enrollment failed")
			warnings = append(warnings, fmt.Sprintf("%s: error: %v", filepath.Base(path), err))
		}(photo)
	}

	wg.Wait()
	fmt.Println()

	for _, w := range warnings {
		fmt.Printf("  %s\n", w)
	}
	fmt.Printf("\nCompleted: %d photos enrolled, %d rejected, %d errors\n", successCount, rejectedCount, errorCount)

	if successCount == 0 {
		return fmt.Errorf("no reference embedding stored for %s", id)
	}
	return nil
}
