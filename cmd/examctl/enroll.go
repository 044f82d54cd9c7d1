package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"examgate/internal/capture"
	"examgate/pkg/domain"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Store face and voice reference templates for a subject",
	Long: `Logs in (registering the email on first use) and enrolls the given face
image and voice clip as the subject's reference templates. Verification at
the checkpoints compares against these.`,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)
	addSubjectFlags(enrollCmd)
	enrollCmd.Flags().String("face", "", "Face image (JPEG or PNG)")
	enrollCmd.Flags().String("voice", "", "Voice clip (WAV, WebM, Ogg, MP3 or M4A)")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	creds := subjectFlags(cmd)

	var artifacts []*capture.Artifact
	for _, f := range []struct {
		modality domain.Modality
		flag     string
	}{{domain.ModalityFace, "face"}, {domain.ModalityVoice, "voice"}} {
		path := mustGetString(cmd, f.flag)
		if path == "" {
			continue
		}
		art, err := loadArtifact(f.modality, path, cfg.Capture.MaxArtifactBytes)
		if err != nil {
			return err
		}
		artifacts = append(artifacts, art)
	}
	if len(artifacts) == 0 {
		return fmt.Errorf("nothing to enroll: pass --face and/or --voice")
	}

	client, closeClient, err := newClient(ctx, cfg, log, creds.email, creds.subject)
	if err != nil {
		return err
	}
	defer closeClient()

	subjectID, err := client.Authenticate(ctx, creds.email, creds.password)
	if err != nil {
		return fmt.Errorf("failed to log in: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODALITY\tBIOMETRIC ID\tMOCK")
	fmt.Fprintln(w, "--------\t------------\t----")
	for _, art := range artifacts {
		enrollment, err := client.Enroll(ctx, subjectID, art)
		if err != nil {
			w.Flush()
			return fmt.Errorf("failed to enroll %s: %w", art.Modality, err)
		}
		fmt.Fprintf(w, "%s\t%d\t%t\n", art.Modality, enrollment.BiometricID, enrollment.MockUsed)
	}
	w.Flush()

	fmt.Printf("\nSubject: %s\n", subjectID)
	return nil
}
