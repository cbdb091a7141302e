package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sora/internal/history"
)

var (
	flagReading  bool
	flagChapter  int
	flagProgress float64
	flagHTMLFile string
)

var continueCmd = &cobra.Command{
	Use:   "continue",
	Short: "Show continue-watching (or continue-reading) progress",
	Args:  cobra.NoArgs,
	RunE:  continueRun,
}

func init() {
	continueCmd.PersistentFlags().BoolVarP(&flagReading, "reading", "r", false, "Use the continue-reading list")

	continueCmd.AddCommand(&cobra.Command{
		Use:   "remove <id|href>",
		Short: "Remove one record (watching: id, reading: href)",
		Args:  cobra.ExactArgs(1),
		RunE:  continueRemoveRun,
	})
	continueCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every record",
		Args:  cobra.NoArgs,
		RunE:  continueClearRun,
	})
	markCmd := &cobra.Command{
		Use:   "mark <chapter-url>",
		Short: "Record reading progress for a chapter",
		Args:  cobra.ExactArgs(1),
		RunE:  continueMarkRun,
	}
	markCmd.Flags().StringVarP(&flagTitle, "title", "t", "", "Book title")
	markCmd.Flags().IntVar(&flagChapter, "chapter", 0, "Chapter number")
	markCmd.Flags().Float64VarP(&flagProgress, "progress", "p", 0, "Progress within the chapter, 0..1")
	markCmd.Flags().StringVar(&flagImage, "image", "", "Cover image URL")
	markCmd.Flags().StringVar(&flagHTMLFile, "html", "", "Chapter HTML to keep once the chapter is finished")
	continueCmd.AddCommand(markCmd)

	continueCmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Drop finished episodes superseded by a later one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.watching.Cleanup()
		},
	})
}

func continueRun(cmd *cobra.Command, args []string) error {
	if flagReading {
		return readingList(cmd)
	}

	if ran, err := app.watching.CleanupIfDue(); err != nil {
		app.logger.Warn("continue watching cleanup failed", zap.Error(err))
	} else if ran {
		app.logger.Debug("continue watching cleanup ran")
	}

	items, err := app.watching.Items()
	if err != nil {
		return fmt.Errorf("loading continue watching: %w", err)
	}
	if flagJSON {
		if items == nil {
			items = []history.WatchingItem{}
		}
		return printJSON(cmd.OutOrStdout(), items)
	}
	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to continue.")
		return nil
	}

	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{
			it.ID,
			history.NormalizeTitle(it.MediaTitle),
			strconv.Itoa(it.EpisodeNumber),
			percent(it.Progress),
			it.Module.Metadata.SourceName,
			it.FullURL,
		})
	}
	return printTable(cmd.OutOrStdout(), []string{"ID", "TITLE", "EP", "PROGRESS", "SOURCE", "URL"}, rows)
}

func readingList(cmd *cobra.Command) error {
	items, err := app.reading.Items()
	if err != nil {
		return fmt.Errorf("loading continue reading: %w", err)
	}
	if flagJSON {
		if items == nil {
			items = []history.ReadingItem{}
		}
		return printJSON(cmd.OutOrStdout(), items)
	}
	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to continue.")
		return nil
	}

	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{
			it.MediaTitle,
			strconv.Itoa(it.ChapterNumber),
			percent(it.Progress),
			it.LastReadDate.Format("2006-01-02 15:04"),
			it.Href,
		})
	}
	return printTable(cmd.OutOrStdout(), []string{"TITLE", "CH", "PROGRESS", "LAST READ", "URL"}, rows)
}

func continueMarkRun(cmd *cobra.Command, args []string) error {
	item := history.ReadingItem{
		MediaTitle:    flagTitle,
		ChapterNumber: flagChapter,
		ImageURL:      flagImage,
		Href:          args[0],
		Progress:      flagProgress,
	}
	if flagModule != "" {
		if mod, err := selectedModule(); err == nil {
			item.ModuleID = mod.ID
		}
	}
	if flagHTMLFile != "" {
		data, err := os.ReadFile(flagHTMLFile)
		if err != nil {
			return fmt.Errorf("reading chapter html: %w", err)
		}
		item.CachedHTML = string(data)
	}
	return app.reading.Save(item)
}

func continueRemoveRun(cmd *cobra.Command, args []string) error {
	if flagReading {
		return app.reading.Remove(args[0])
	}
	return app.watching.Remove(args[0])
}

func continueClearRun(cmd *cobra.Command, args []string) error {
	if flagReading {
		return app.reading.Clear()
	}
	return app.watching.Clear()
}
