package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/idcap/internal/doctype"
	"github.com/MeKo-Tech/idcap/internal/frame"
	"github.com/MeKo-Tech/idcap/internal/geometry"
	"github.com/MeKo-Tech/idcap/internal/glare"
	"github.com/spf13/cobra"
)

const (
	outputFormatJSON = "json"
	outputFormatText = "text"
)

// analyzeResult is the glare report for one image.
type analyzeResult struct {
	File   string        `json:"file"`
	Width  int           `json:"width"`
	Height int           `json:"height"`
	Crop   string        `json:"crop,omitempty"`
	Report *glare.Report `json:"report,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// analyzeCmd represents the analyze command.
var analyzeCmd = &cobra.Command{
	Use:   "analyze <images...>",
	Short: "Check document images for glare",
	Long: `Run the glare heuristic over one or more images.

By default the whole image is analyzed. With --crop the image is first cut
to the guide of the selected document type, as a capture would. --video and
--guide give the displayed video box and guide explicitly, as
"left,top,width,height" in display pixels.

Supported formats: JPEG, PNG, BMP, WebP

Examples:
  idcap analyze front.png back.png
  idcap analyze frame.jpg --crop --doc-type passport
  idcap analyze frame.jpg --video 0,0,1280,720 --guide 240,160,800,400 --format json`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("preset") {
			cfg.Glare.Preset, _ = cmd.Flags().GetString("preset")
		}
		capCfg, err := captureConfigFor(cmd, cfg)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format != outputFormatText && format != outputFormatJSON {
			return fmt.Errorf("invalid output format: %s (must be one of: %s, %s)", format, outputFormatText, outputFormatJSON)
		}
		outputFile, _ := cmd.Flags().GetString("output")

		var overlay *geometry.Overlay
		videoFlag, _ := cmd.Flags().GetString("video")
		guideFlag, _ := cmd.Flags().GetString("guide")
		if videoFlag != "" || guideFlag != "" {
			o, err := parseOverlay(videoFlag, guideFlag, capCfg.DocType)
			if err != nil {
				return err
			}
			overlay = &o
		}
		autoCrop, _ := cmd.Flags().GetBool("crop")

		results := make([]analyzeResult, 0, len(args))
		failed := 0
		for _, path := range args {
			res := analyzeFile(path, overlay, autoCrop, capCfg.DocType, capCfg.Glare)
			if res.Error != "" {
				failed++
			}
			results = append(results, res)
		}

		var out string
		if format == outputFormatJSON {
			data, err := json.MarshalIndent(results, "", "  ")
			if err != nil {
				return err
			}
			out = string(data)
		} else {
			var b strings.Builder
			for _, r := range results {
				switch {
				case r.Error != "":
					fmt.Fprintf(&b, "%s: error: %s\n", r.File, r.Error)
				case r.Crop != "":
					fmt.Fprintf(&b, "%s: %s (crop %s)\n", r.File, r.Report, r.Crop)
				default:
					fmt.Fprintf(&b, "%s: %s\n", r.File, r.Report)
				}
			}
			out = strings.TrimRight(b.String(), "\n")
		}

		if outputFile != "" {
			if err := os.WriteFile(outputFile, []byte(out+"\n"), 0o600); err != nil {
				return fmt.Errorf("failed to write output file: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Results written to %s\n", outputFile)
		} else {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), out)
		}

		if failed == len(args) {
			return fmt.Errorf("no image could be analyzed")
		}
		return nil
	},
}

func analyzeFile(path string, overlay *geometry.Overlay, autoCrop bool, docType string, cfg glare.Config) analyzeResult {
	res := analyzeResult{File: path}
	img, err := frame.Load(path)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	b := img.Bounds()
	res.Width, res.Height = b.Dx(), b.Dy()

	o := overlay
	if o == nil && autoCrop {
		video := geometry.Rect{Width: float64(b.Dx()), Height: float64(b.Dy())}
		d, err := doctype.Overlay(docType, video)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		o = &d
	}

	var buf *frame.Buffer
	if o == nil {
		buf = frame.FromImage(img)
	} else {
		c, err := geometry.CropFor(*o, b.Dx(), b.Dy())
		if err != nil {
			res.Error = err.Error()
			return res
		}
		buf, err = geometry.Extract(img, c)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		res.Crop = c.Rect().String()
	}

	report := glare.Analyze(buf, cfg)
	res.Report = &report
	return res
}

// parseOverlay builds an overlay from the --video and --guide flags. A
// missing guide is the document type's default guide.
func parseOverlay(video, guide, docType string) (geometry.Overlay, error) {
	if video == "" {
		return geometry.Overlay{}, errors.New("--guide needs --video")
	}
	v, err := parseRect(video)
	if err != nil {
		return geometry.Overlay{}, fmt.Errorf("invalid --video: %w", err)
	}
	if guide == "" {
		return doctype.Overlay(docType, v)
	}
	g, err := parseRect(guide)
	if err != nil {
		return geometry.Overlay{}, fmt.Errorf("invalid --guide: %w", err)
	}
	return geometry.Overlay{Guide: g, Video: v}, nil
}

// parseRect parses "left,top,width,height".
func parseRect(s string) (geometry.Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return geometry.Rect{}, fmt.Errorf("expected left,top,width,height, got %q", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geometry.Rect{}, fmt.Errorf("invalid number %q", p)
		}
		v[i] = f
	}
	r := geometry.Rect{Left: v[0], Top: v[1], Width: v[2], Height: v[3]}
	if !r.Valid() {
		return geometry.Rect{}, fmt.Errorf("rectangle %q has no area", s)
	}
	return r, nil
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json)")
	analyzeCmd.Flags().StringP("output", "o", "", "write results to file instead of stdout")
	analyzeCmd.Flags().String("preset", "", "glare preset (standard, sensitive, custom)")
	analyzeCmd.Flags().String("doc-type", "", "document type used for --crop and a missing --guide")
	analyzeCmd.Flags().Bool("crop", false, "crop to the document type guide before analysis")
	analyzeCmd.Flags().String("video", "", "displayed video box as left,top,width,height")
	analyzeCmd.Flags().String("guide", "", "guide box as left,top,width,height")
}
