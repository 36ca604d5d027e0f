package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/MeKo-Tech/idcap/internal/source"
	"github.com/spf13/cobra"
)

// devicesCmd represents the devices command.
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List video input devices",
	Long: `List the video input devices a capture session can open, marking the one
chosen by default (the first rear-facing camera, else the first device).

With --frames-dir the images of that directory are listed instead.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		framesDir := cfg.Camera.FramesDir
		if cmd.Flags().Changed("frames-dir") {
			framesDir, _ = cmd.Flags().GetString("frames-dir")
		}

		var src source.Source
		if framesDir != "" {
			if src, err = source.NewDirSource(framesDir); err != nil {
				return err
			}
		} else if src, err = source.NewCameraSource(); err != nil {
			return err
		}

		devices, err := src.Devices(cmd.Context())
		if err != nil {
			return err
		}
		preferred, _ := source.PreferredDevice(devices)

		if format, _ := cmd.Flags().GetString("format"); format == outputFormatJSON {
			data, err := json.MarshalIndent(map[string]interface{}{
				"devices":          devices,
				"preferred":        preferred.ID,
				"camera_available": source.CameraAvailable,
			}, "", "  ")
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		if len(devices) == 0 {
			if !source.CameraAvailable && framesDir == "" {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No camera backend in this build; use --frames-dir.")
				return nil
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No devices found.")
			return nil
		}
		for _, d := range devices {
			mark := " "
			if d.ID == preferred.ID {
				mark = "*"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\t%s\n", mark, d.ID, d.Label)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
	devicesCmd.Flags().String("frames-dir", "", "list the images in this directory instead of cameras")
	devicesCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json)")
}
