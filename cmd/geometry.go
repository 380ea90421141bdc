package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aetherspritee/msirs/pkg/tile"
)

var geometryCmd = &cobra.Command{
	Use:   "geometry",
	Short: "Print the tile grid for an image size",
	Long: `Print padding, offsets and window counts for an image of the given size
without contacting the model server.

Examples:
  msirs geometry --height 500 --width 500
  msirs geometry --height 1024 --width 768 --window 128 --step 8 --starts`,
	RunE: runGeometry,
}

func init() {
	rootCmd.AddCommand(geometryCmd)

	geometryCmd.Flags().Int("height", 0, "image height in pixels (required)")
	geometryCmd.Flags().Int("width", 0, "image width in pixels (required)")
	geometryCmd.Flags().Bool("starts", false, "list every window start")
	geometryCmd.MarkFlagRequired("height")
	geometryCmd.MarkFlagRequired("width")
}

func runGeometry(cmd *cobra.Command, args []string) error {
	height, _ := cmd.Flags().GetInt("height")
	width, _ := cmd.Flags().GetInt("width")
	starts, _ := cmd.Flags().GetBool("starts")

	g, err := tile.NewGeometry(tile.Shape{Height: height, Width: width},
		viper.GetInt("tiling.window"), viper.GetInt("tiling.step"))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "image:   %d x %d\n", g.Image.Height, g.Image.Width)
	fmt.Fprintf(out, "window:  %d, step %d\n", g.WindowSize, g.StepSize)
	fmt.Fprintf(out, "tiles:   %d x %d\n", g.Tiles[tile.AxisA], g.Tiles[tile.AxisB])
	fmt.Fprintf(out, "padded:  %d x %d\n", g.Padded.Height, g.Padded.Width)
	fmt.Fprintf(out, "offset:  %d, %d\n", g.Offset[tile.AxisA], g.Offset[tile.AxisB])
	rows, cols := g.Count()
	fmt.Fprintf(out, "windows: %d x %d = %d\n", rows, cols, g.Len())
	if starts {
		fmt.Fprintf(out, "starts a: %v\n", g.StartsA)
		fmt.Fprintf(out, "starts b: %v\n", g.StartsB)
	}
	return nil
}
