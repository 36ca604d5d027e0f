package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/idcap/internal/testutil"
)

// frameSet is one directory of synthetic frames under testdata/frames.
type frameSet struct {
	name   string
	frames []testutil.DocumentConfig
}

func frameSets() []frameSet {
	clean := testutil.DefaultDocumentConfig()

	glare := testutil.DefaultDocumentConfig()
	glare.Glare = 0.5

	portrait := testutil.DefaultDocumentConfig()
	portrait.Size = testutil.ImageSize{Width: testutil.MediumSize.Height, Height: testutil.MediumSize.Width}

	passport := testutil.DefaultDocumentConfig()
	passport.Aspect = 125.0 / 88.0
	passport.Lines = []string{"PASSPORT", "SURNAME: SAMPLE", "P<XXXSAMPLE<<PERSON<<<<<<"}

	hd := testutil.DefaultDocumentConfig()
	hd.Size = testutil.HDSize

	return []frameSet{
		{name: "clean", frames: []testutil.DocumentConfig{clean, clean}},
		{name: "glare", frames: []testutil.DocumentConfig{glare, glare}},
		{name: "mixed", frames: []testutil.DocumentConfig{clean, glare}},
		{name: "portrait", frames: []testutil.DocumentConfig{portrait}},
		{name: "passport", frames: []testutil.DocumentConfig{passport, passport}},
		{name: "hd", frames: []testutil.DocumentConfig{hd, hd}},
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var (
		only    = flag.String("set", "", "Generate only the named frame set")
		verbose = flag.Bool("v", false, "Verbose output")
		help    = flag.Bool("h", false, "Show help")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Generate synthetic document frames for idcap testing.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEXAMPLES:\n")
		fmt.Fprintf(os.Stderr, "  %s               # Generate every frame set\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -set glare    # Generate only the glare frames\n", os.Args[0])
	}

	flag.Parse()

	if *help {
		flag.Usage()
		return
	}

	root, err := testutil.GetProjectRoot()
	if err != nil {
		slog.Error("Failed to find project root", "error", err)
		os.Exit(1)
	}
	if *verbose {
		slog.Info("Project root", "path", root)
	}

	generated := 0
	for _, set := range frameSets() {
		if *only != "" && set.name != *only {
			continue
		}
		dir := filepath.Join(root, "testdata", "frames", set.name)
		paths, err := writeSet(dir, set.frames)
		if err != nil {
			slog.Error("Failed to generate frames", "set", set.name, "error", err)
			os.Exit(1)
		}
		if *verbose {
			slog.Info("Frame set written", "set", set.name, "dir", dir, "frames", paths)
		}
		generated++
	}

	if generated == 0 {
		slog.Error("Unknown frame set", "set", *only)
		os.Exit(1)
	}
	slog.Info("Test data generation completed", "sets", generated)
}

func writeSet(dir string, frames []testutil.DocumentConfig) ([]string, error) {
	if err := testutil.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	paths, err := testutil.WriteFrames(dir, frames...)
	if err != nil {
		return nil, fmt.Errorf("failed to write frames: %w", err)
	}
	return paths, nil
}
