package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/idcap/internal/auth"
	"github.com/MeKo-Tech/idcap/internal/capture"
	"github.com/MeKo-Tech/idcap/internal/export"
	"github.com/MeKo-Tech/idcap/internal/geometry"
	"github.com/MeKo-Tech/idcap/internal/messages"
	"github.com/MeKo-Tech/idcap/internal/orientation"
	"github.com/MeKo-Tech/idcap/internal/source"
	"github.com/MeKo-Tech/idcap/internal/submit"
	"github.com/spf13/cobra"
)

const sessionHelp = `Commands:
  start             open the frame source and wait for the front side
  capture           capture the current frame (waits for the countdown)
  accept | retry    keep or discard the pending capture
  next              step a still-image source to its next frame
  viewport WxH      report a viewport size, e.g. viewport 1280x720
  doctype ID        select the document type
  device ID         switch to another device
  devices           list devices
  submit            send both sides to the processing endpoint
  save [DIR]        write the accepted sides as PNG (and PDF with --pdf)
  status            show the current state
  reset             start over
  quit              leave`

// sessionCmd represents the session command.
var sessionCmd = &cobra.Command{
	Use:   "session [frames...]",
	Short: "Run the capture workflow interactively",
	Long: `Drive the front/back capture workflow from the terminal, one command per
line on stdin. Frames come from the given image files, from --frames-dir, or
from the local camera when neither is given.

` + sessionHelp + `

Examples:
  idcap session front.jpg back.jpg
  idcap session --frames-dir ./frames --doc-type passport
  printf 'start\ncapture\naccept\nnext\ncapture\naccept\nsave out\n' | idcap session --frames-dir ./frames`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		capCfg, err := captureConfigFor(cmd, cfg)
		if err != nil {
			return err
		}

		framesDir := cfg.Camera.FramesDir
		if cmd.Flags().Changed("frames-dir") {
			framesDir, _ = cmd.Flags().GetString("frames-dir")
		}
		submissionURL := cfg.Submission.URL
		if cmd.Flags().Changed("submission-url") {
			submissionURL, _ = cmd.Flags().GetString("submission-url")
		}
		token, _ := cmd.Flags().GetString("token")
		outputDir, _ := cmd.Flags().GetString("output-dir")
		withPDF, _ := cmd.Flags().GetBool("pdf")

		var src source.Source
		switch {
		case len(args) > 0:
			src = source.NewFileSource(args...)
			capCfg.Source.DeviceID = ""
		case framesDir != "":
			if src, err = source.NewDirSource(framesDir); err != nil {
				return err
			}
			capCfg.Source.DeviceID = ""
		default:
			if src, err = source.NewCameraSource(); err != nil {
				return err
			}
		}

		out := &syncWriter{w: cmd.OutOrStdout()}
		r := &sessionRunner{
			out:       out,
			printer:   messages.NewPrinter(messages.Match(cfg.Language)),
			src:       src,
			tokens:    auth.Chain{auth.StaticToken(token), auth.StaticToken(cfg.Submission.Token)},
			outputDir: outputDir,
			withPDF:   withPDF,
			changed:   make(chan struct{}, 1),
			countdown: capCfg.Readiness.PreDelay + capCfg.Readiness.Delay + time.Second,
		}
		opts := []capture.Option{
			capture.WithObserver(capture.ObserverFunc(r.onEvent)),
			capture.WithLogger(slog.Default().With("component", "session")),
		}
		if submissionURL != "" {
			opts = append(opts, capture.WithSubmitter(submit.NewClient(submissionURL, cfg.SubmissionTimeout())))
		}
		r.m = capture.New(capCfg, src, opts...)
		defer r.m.Close()

		return r.run(cmd.Context(), cmd.InOrStdin())
	},
}

// syncWriter serializes writes from the command loop and from machine events.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintf(s.w, format, args...)
}

type sessionRunner struct {
	m         *capture.Machine
	out       *syncWriter
	printer   *messages.Printer
	src       source.Source
	tokens    auth.TokenSource
	outputDir string
	withPDF   bool
	// changed is signalled after every machine event.
	changed   chan struct{}
	countdown time.Duration
}

// onEvent runs under the machine lock and must not call back into it.
func (r *sessionRunner) onEvent(e capture.Event) {
	if t := e.Transition; t != nil {
		r.out.printf("%s -> %s (%s)\n", t.From, t.To, t.Trigger)
		if msg := r.printer.Detail(e.Snapshot.Notice, e.Snapshot.NoticeDetail); msg != "" {
			r.out.printf("  %s\n", msg)
		}
		if rep := e.Snapshot.Report; rep != nil && (t.To == capture.FrontCaptured || t.To == capture.BackCaptured) {
			r.out.printf("  glare: %s\n", rep)
		}
	}
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

func (r *sessionRunner) run(ctx context.Context, in io.Reader) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r.out.printf("%s\n", r.printer.Text(messages.SelectDocType))
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		done, err := r.exec(ctx, fields[0], fields[1:])
		if err != nil {
			r.out.printf("error: %v\n", err)
		}
		if done {
			return nil
		}
	}
	return scanner.Err()
}

// exec runs one command line. It reports true when the session should end.
func (r *sessionRunner) exec(ctx context.Context, name string, args []string) (bool, error) {
	m := r.m
	switch name {
	case "quit", "exit":
		return true, nil
	case "help":
		r.out.printf("%s\n", sessionHelp)
	case "status":
		r.printStatus()
	case "start":
		return false, m.Start(ctx)
	case "capture":
		if err := r.waitReady(ctx); err != nil {
			return false, err
		}
		if !m.Capture(m.ResolveOverlay(geometry.Overlay{})) {
			return false, errors.New("capture not possible in state " + m.State().String())
		}
	case "accept":
		if !m.Accept() {
			return false, errors.New("nothing to accept")
		}
	case "retry":
		if !m.Retry() {
			return false, errors.New("nothing to retry")
		}
	case "reset":
		m.Reset()
	case "next":
		if !m.Advance() {
			return false, errors.New("source cannot advance")
		}
	case "viewport":
		v, err := parseViewport(args)
		if err != nil {
			return false, err
		}
		m.SetViewport(v)
		if !v.Landscape() {
			r.out.printf("%s\n", r.printer.Text(messages.Rotate))
		}
	case "doctype":
		if len(args) != 1 {
			return false, errors.New("usage: doctype ID")
		}
		return false, m.SetDocType(args[0])
	case "device":
		if len(args) != 1 {
			return false, errors.New("usage: device ID")
		}
		return false, m.SelectDevice(ctx, args[0])
	case "devices":
		devices, err := r.src.Devices(ctx)
		if err != nil {
			return false, err
		}
		for _, d := range devices {
			r.out.printf("%s\t%s\n", d.ID, d.Label)
		}
	case "submit":
		return false, m.Submit(ctx, r.tokens)
	case "save":
		dir := r.outputDir
		if len(args) > 0 {
			dir = args[0]
		}
		return false, r.save(dir)
	default:
		return false, fmt.Errorf("unknown command %q (try help)", name)
	}
	return false, nil
}

// waitReady blocks until the countdown allows a capture, or gives up after
// the configured delays have clearly passed.
func (r *sessionRunner) waitReady(ctx context.Context) error {
	timeout := time.NewTimer(r.countdown)
	defer timeout.Stop()
	for {
		snap := r.m.Snapshot()
		if snap.CaptureEnabled || !snap.State.Waiting() {
			return nil
		}
		if !snap.Landscape {
			return errors.New(r.printer.Text(messages.Rotate))
		}
		select {
		case <-r.changed:
		case <-timeout.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *sessionRunner) printStatus() {
	snap := r.m.Snapshot()
	r.out.printf("state: %s\nside: %s\ndoc type: %s\nreadiness: %s\n", snap.State, snap.Side, snap.DocType, snap.Readiness)
	if snap.Report != nil {
		r.out.printf("glare: %s\n", snap.Report)
	}
	if msg := r.printer.Detail(snap.Notice, snap.NoticeDetail); msg != "" {
		r.out.printf("notice: %s\n", msg)
	}
}

func (r *sessionRunner) save(dir string) error {
	front, back := r.m.Buffer(capture.Front), r.m.Buffer(capture.Back)
	docType := r.m.DocType()
	paths, err := export.SavePNGs(dir, docType, front, back)
	if err != nil {
		return err
	}
	if r.withPDF {
		data, err := export.PDFBytes(front, back)
		if err != nil {
			return err
		}
		p := filepath.Join(dir, "ID_"+strings.ToUpper(docType)+".pdf")
		if err := os.WriteFile(p, data, 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %w", p, err)
		}
		paths = append(paths, p)
	}
	for _, p := range paths {
		r.out.printf("saved %s\n", p)
	}
	return nil
}

// parseViewport accepts "1280x720" or "1280 720".
func parseViewport(args []string) (orientation.Viewport, error) {
	parts := args
	if len(args) == 1 {
		parts = strings.SplitN(args[0], "x", 2)
	}
	if len(parts) != 2 {
		return orientation.Viewport{}, errors.New("usage: viewport WIDTHxHEIGHT")
	}
	w, err1 := strconv.Atoi(parts[0])
	h, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || w < 0 || h < 0 {
		return orientation.Viewport{}, fmt.Errorf("invalid viewport %q", strings.Join(args, " "))
	}
	return orientation.Viewport{Width: w, Height: h}, nil
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.Flags().String("frames-dir", "", "read frames from the images in this directory")
	sessionCmd.Flags().String("doc-type", "", "document type (ine, license, old_citizen, passport)")
	sessionCmd.Flags().String("submission-url", "", "processing endpoint for submitted images")
	sessionCmd.Flags().String("token", "", "identity token sent with submissions")
	sessionCmd.Flags().StringP("output-dir", "o", ".", "directory for saved images")
	sessionCmd.Flags().Bool("pdf", false, "also save a PDF of both sides")
}
