package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"

	"github.com/aetherspritee/msirs/internal/catalog"
	"github.com/aetherspritee/msirs/internal/segment"
)

var segmentCmd = &cobra.Command{
	Use:   "segment <image>",
	Short: "Classify every window of an image",
	Long: `Slide a window over the image, classify every window with the model
server and assemble the labels into a map.

The image may be a local path or an http(s) URL.

Examples:
  # Colour map at full resolution
  msirs segment scene.png -o labels.png

  # One pixel per window
  msirs segment scene.png --format grid -o grid.png

  # Raw label grid as JSON on stdout
  msirs segment scene.png --format json --step 16`,
	Args: cobra.ExactArgs(1),
	RunE: runSegment,
}

func init() {
	rootCmd.AddCommand(segmentCmd)

	segmentCmd.Flags().StringP("output", "o", "", "output file (default: category counts on stdout)")
	segmentCmd.Flags().StringP("format", "f", "png", "output format (png|grid|json)")
}

func runSegment(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "png", "grid", "json":
	default:
		return fmt.Errorf("unknown format: %s", format)
	}

	a, err := newApp(cmd.Context(), false)
	if err != nil {
		return err
	}

	data, err := a.processor.Read(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	img, err := a.processor.DecodeRaster(data)
	if err != nil {
		return err
	}

	g := a.cfg.Tiling
	fmt.Fprintf(cmd.ErrOrStderr(), "Segmenting %dx%d image with window %d, step %d\n",
		img.Height, img.Width, g.WindowSize, g.StepSize)

	lm, err := a.segmenter().Segment(cmd.Context(), img)
	if err != nil {
		return err
	}

	switch {
	case format == "json" && output == "":
		return writeJSON(cmd, lm)
	case format == "json":
		raw, err := json.Marshal(lm)
		if err != nil {
			return err
		}
		return os.WriteFile(output, raw, 0o644)
	case output == "":
		printCounts(cmd, lm, a.catalog)
		return nil
	case format == "grid":
		err = imaging.Save(lm.Grid(a.catalog), output)
	default:
		err = imaging.Save(lm.Render(a.catalog), output)
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", output)
	printCounts(cmd, lm, a.catalog)
	return nil
}

func printCounts(cmd *cobra.Command, lm *segment.LabelMap, cat *catalog.Catalog) {
	counts := lm.Counts()
	labels := make([]int, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Ints(labels)

	out := cmd.OutOrStdout()
	for _, label := range labels {
		name := "unlabeled"
		if c, ok := cat.Lookup(label); ok {
			name = fmt.Sprintf("%s (%s)", c.Code, c.Name)
		}
		fmt.Fprintf(out, "%-28s %d\n", name, counts[label])
	}
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
