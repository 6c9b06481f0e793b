package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	apperrors "github.com/kimhsiao/capturegallery/internal/errors"
	"github.com/kimhsiao/capturegallery/internal/gallery"
	"github.com/kimhsiao/capturegallery/internal/models"
)

var (
	ingestPhotos      []string
	ingestVideos      []string
	ingestInline      []string
	ingestRawMetadata string
	ingestKind        string
	ingestStrict      bool
)

// ingestFailure reports a capture that was not added.
type ingestFailure struct {
	Kind  models.MediaKind `json:"kind"`
	Ref   string           `json:"ref"`
	Code  string           `json:"code"`
	Error string           `json:"error"`
}

// ingestOutput is printed on stdout.
type ingestOutput struct {
	Items    []models.MediaItem `json:"items"`
	Failures []ingestFailure    `json:"failures,omitempty"`
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest captures and print the gallery",
	Long: `Ingest photos, then video paths, then inline videos, in flag order, and
print the resulting gallery as JSON. Photo file references are deleted
once embedded; video files are kept.`,
	Example: `  capture ingest --photo SGVsbG8=
  capture ingest --photo file:///data/captures/shot.jpg --raw-metadata '{"lens":"wide"}'
  capture ingest --video /data/captures/clip.mp4 --kind video
  capture ingest --inline Zm9vYmFy`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringArrayVar(&ingestPhotos, "photo", nil, "photo reference: raw base64, data URL, path or URI (repeatable)")
	ingestCmd.Flags().StringArrayVar(&ingestVideos, "video", nil, "video path or URI (repeatable)")
	ingestCmd.Flags().StringArrayVar(&ingestInline, "inline", nil, "inline video data: raw base64 or data URL (repeatable)")
	ingestCmd.Flags().StringVar(&ingestRawMetadata, "raw-metadata", "", "JSON object attached to every photo")
	ingestCmd.Flags().StringVar(&ingestKind, "kind", "", "only print items of this kind (photo or video)")
	ingestCmd.Flags().BoolVar(&ingestStrict, "strict", false, "exit non-zero if any capture is aborted")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	if len(ingestPhotos)+len(ingestVideos)+len(ingestInline) == 0 {
		return fmt.Errorf("nothing to ingest: pass --photo, --video or --inline")
	}

	var kind models.MediaKind
	if ingestKind != "" {
		k, err := models.ParseMediaKind(ingestKind)
		if err != nil {
			return err
		}
		kind = k
	}

	raw, err := models.ParseRawMetadata(ingestRawMetadata)
	if err != nil {
		return err
	}

	svc, err := newService(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx := cmd.Context()
	var out ingestOutput
	fail := func(k models.MediaKind, ref string, err error) {
		out.Failures = append(out.Failures, ingestFailure{
			Kind:  k,
			Ref:   ref,
			Code:  string(apperrors.CodeOf(err)),
			Error: err.Error(),
		})
	}

	for _, ref := range ingestPhotos {
		if _, err := svc.Store.AddPhoto(ctx, ref, raw); err != nil {
			fail(models.KindPhoto, ref, err)
		}
	}
	for _, path := range ingestVideos {
		if _, err := svc.Store.AddVideo(ctx, path, ""); err != nil {
			fail(models.KindVideo, path, err)
		}
	}
	for _, data := range ingestInline {
		if _, err := svc.Store.AddVideo(ctx, "", data); err != nil {
			fail(models.KindVideo, "(inline)", err)
		}
	}

	out.Items = svc.Store.Items()
	if kind != "" {
		out.Items = gallery.Filter(out.Items, kind)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}

	if ingestStrict && len(out.Failures) > 0 {
		return fmt.Errorf("%d capture(s) aborted", len(out.Failures))
	}
	return nil
}
