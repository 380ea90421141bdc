package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <image>",
	Short: "Find indexed images similar to a query image",
	Long: `Compute the descriptor of the query image and list the closest indexed
images.

With --stage the query and its matches are written to a folder for a viewer:
query.<ext>, retrieval_<n>.png (n from 1) and metadata.json. The folder's
contents are removed first; the working and home directories are refused.

Examples:
  msirs retrieve crater.jpg -k 5
  msirs retrieve https://example.com/scene.png --stage ./ui`,
	Args: cobra.ExactArgs(1),
	RunE: runRetrieve,
}

var addCmd = &cobra.Command{
	Use:   "add <image>...",
	Short: "Add images to the index",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAdd,
}

var populateCmd = &cobra.Command{
	Use:   "populate <dir>",
	Short: "Index every image below a directory",
	Long: `Walk the directory recursively and add every file whose extension is in
model.formats. Files that fail to decode or describe are reported and skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runPopulate,
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show the number of indexed images per category",
	Args:  cobra.NoArgs,
	RunE:  runSummary,
}

func init() {
	rootCmd.AddCommand(retrieveCmd, addCmd, populateCmd, summaryCmd)

	retrieveCmd.Flags().IntP("top-k", "k", 8, "number of matches")
	retrieveCmd.Flags().String("stage", "", "write query and matches to this folder")
	retrieveCmd.Flags().Bool("json", false, "print matches as JSON")
	viper.BindPFlag("index.top_k", retrieveCmd.Flags().Lookup("top-k"))

	populateCmd.Flags().Bool("json", false, "print the report as JSON")
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	stage, _ := cmd.Flags().GetString("stage")
	asJSON, _ := cmd.Flags().GetBool("json")

	a, err := newApp(cmd.Context(), true)
	if err != nil {
		return err
	}
	if a.pipeline.Len() == 0 {
		return fmt.Errorf("index is empty, run populate or add first")
	}

	data, err := a.processor.Read(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	img, err := a.processor.DecodeRaster(data)
	if err != nil {
		return err
	}

	res, err := a.pipeline.Query(cmd.Context(), img, a.cfg.Index.TopK)
	if err != nil {
		return err
	}

	if stage != "" {
		if _, err := a.pipeline.Stage(cmd.Context(), stage, args[0], data, res); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Staged %d matches in %s\n", len(res.Matches), stage)
	}

	if asJSON {
		return writeJSON(cmd, res)
	}
	out := cmd.OutOrStdout()
	for i, m := range res.Matches {
		fmt.Fprintf(out, "%2d  %.4f  %-4s  %s  %s\n", i, m.Distance,
			m.Record.Metadata.Category, m.Record.ID, m.Record.Metadata.SourcePath)
	}
	return nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), true)
	if err != nil {
		return err
	}

	added := 0
	for _, source := range args {
		data, err := a.processor.Read(cmd.Context(), source)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Skipping %s: %v\n", source, err)
			continue
		}
		rec, err := a.pipeline.Add(cmd.Context(), source, data)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Skipping %s: %v\n", source, err)
			continue
		}
		added++
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", rec.ID, source)
	}
	if added == 0 {
		return fmt.Errorf("no images added")
	}
	return a.pipeline.Persist(cmd.Context())
}

func runPopulate(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	a, err := newApp(cmd.Context(), true)
	if err != nil {
		return err
	}

	report, err := a.pipeline.Populate(cmd.Context(), args[0], a.cfg.Model.AllowedFormats, a.cfg.Tiling.Workers)
	if err != nil {
		return err
	}

	if asJSON {
		return writeJSON(cmd, report)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added %d images, skipped %d, index holds %d\n",
		report.Added, len(report.Skipped), a.pipeline.Len())
	for _, f := range report.Skipped {
		fmt.Fprintf(cmd.OutOrStdout(), "  skipped %s: %s\n", f.Path, f.Err)
	}
	return nil
}

func runSummary(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), true)
	if err != nil {
		return err
	}

	summary := a.pipeline.Summary()
	codes := make([]string, 0, len(summary))
	for code := range summary {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d images indexed\n", a.pipeline.Len())
	for _, code := range codes {
		name := code
		if c, ok := a.catalog.ByCode(code); ok {
			name = fmt.Sprintf("%s (%s)", c.Code, c.Name)
		}
		fmt.Fprintf(out, "  %-28s %d\n", name, summary[code])
	}
	return nil
}
