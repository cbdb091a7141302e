package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"sora/internal/download"
	"sora/internal/events"
	"sora/internal/manifest"
	"sora/internal/media"
	"sora/internal/subtitle"
)

var (
	flagDownloadDir string
	flagShow        string
	flagSeason      int
	flagDirect      bool
	flagNoRemux     bool
)

var downloadCmd = &cobra.Command{
	Use:   "download <episode-url>",
	Short: "Download an episode or movie through the selected module",
	Long: `Download extracts the stream for an episode page with the selected module
and downloads it. With --direct the argument is the stream URL itself.`,
	Args: cobra.ExactArgs(1),
	RunE: downloadRun,
}

func init() {
	downloadCmd.Flags().StringVarP(&flagDownloadDir, "dir", "d", "", "Download directory (default: config download_dir)")
	downloadCmd.Flags().StringVarP(&flagTitle, "title", "t", "", "Asset title")
	downloadCmd.Flags().StringVar(&flagShow, "show", "", "Show title; marks the download as an episode")
	downloadCmd.Flags().IntVar(&flagSeason, "season", 0, "Season number")
	downloadCmd.Flags().IntVarP(&flagEpisode, "episode", "e", 0, "Episode number")
	downloadCmd.Flags().StringVar(&flagImage, "image", "", "Poster image URL")
	downloadCmd.Flags().IntVarP(&flagStreamIndex, "stream", "s", 0, "Index of the stream to use when the module returns several")
	downloadCmd.Flags().StringVarP(&flagLanguage, "language", "l", "", "Subtitle language (default: config subs_language)")
	downloadCmd.Flags().BoolVarP(&flagNoSubs, "no-subs", "n", false, "Do not save a subtitle sidecar")
	downloadCmd.Flags().BoolVar(&flagDirect, "direct", false, "Treat the argument as the stream URL")
	downloadCmd.Flags().BoolVar(&flagNoRemux, "no-remux", false, "Keep HLS downloads as .ts instead of remuxing to .mkv")
}

func downloadRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt)
	defer stop()

	dir := flagDownloadDir
	if dir == "" {
		var err error
		if dir, err = cfg.ExpandDownloadDir(); err != nil {
			return fmt.Errorf("resolving download dir: %w", err)
		}
	}

	req := download.Request{
		URL:       args[0],
		Title:     flagTitle,
		PosterURL: flagImage,
		IsEpisode: flagShow != "" || flagEpisode > 0,
		ShowTitle: flagShow,
		Season:    flagSeason,
		Episode:   flagEpisode,
	}
	var mod media.Module
	if !flagDirect {
		rs, err := streamForDownload(ctx, args[0])
		if err != nil {
			return err
		}
		mod = rs.Module
		req.URL = rs.Stream.URL
		req.Headers = rs.Stream.Headers
		if rs.Subtitle != nil {
			req.SubtitleURL = rs.Subtitle.URL
		}
	}

	session, err := download.NewHTTPSession(download.SessionOptions{
		Dir:    dir,
		Logger: app.logger,
		Remux:  !flagNoRemux,
	})
	if err != nil {
		return err
	}
	mgr := download.New(download.Options{
		Session:  session,
		Resolver: manifest.NewResolver(nil, app.logger),
		Bus:      app.bus,
		Logger:   app.logger,
		Quality:  media.ParseQuality(cfg.DownloadQuality),
	})
	defer mgr.Close()

	// Subscribe before starting: a fast task can finish before Start returns.
	updates := make(chan events.Event, 64)
	done := make(chan struct{})
	defer close(done)
	unsubscribe := app.bus.Subscribe(func(e events.Event) {
		select {
		case updates <- e:
		case <-done:
		}
	}, events.DownloadProgressChanged, events.DownloadStatusChanged)
	defer unsubscribe()

	id, err := mgr.Start(ctx, req, mod)
	if err != nil {
		return fmt.Errorf("starting download: %w", err)
	}
	app.logger.Debug("download started", zap.String("id", id))

	bar := newProgressLine(cmd.ErrOrStderr(), displayName(req))
	for {
		select {
		case <-ctx.Done():
			if err := mgr.Cancel(id); err != nil {
				app.logger.Debug("cancelling download", zap.Error(err))
			}
			bar.finish("cancelled")
			return ctx.Err()
		case e := <-updates:
			switch p := e.Payload.(type) {
			case events.DownloadProgress:
				if p.ID == id {
					bar.update(p.Progress)
				}
			case events.DownloadStatus:
				if p.ID != id {
					continue
				}
				bar.finish(p.Status)
				if p.Status != download.StatusCompleted.String() {
					return fmt.Errorf("%s", p.Message)
				}
				if flagJSON {
					return printJSON(cmd.OutOrStdout(), p)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Downloaded: %s\n", p.Path)
				return nil
			}
		}
	}
}

// streamForDownload extracts the episode's stream. Variant selection is
// left to the download manager, which uses the download quality.
func streamForDownload(ctx context.Context, episodeURL string) (resolvedStream, error) {
	p, err := activeProvider()
	if err != nil {
		return resolvedStream{}, err
	}
	result, err := p.Stream(ctx, episodeURL)
	if err != nil {
		return resolvedStream{}, fmt.Errorf("extracting stream: %w", err)
	}
	if flagStreamIndex < 0 || flagStreamIndex >= len(result.Streams) {
		return resolvedStream{}, fmt.Errorf("stream index %d out of range (module returned %d)", flagStreamIndex, len(result.Streams))
	}
	rs := resolvedStream{Module: p.Module(), Stream: result.Streams[flagStreamIndex], Subtitles: result.Subtitles}
	if !flagNoSubs {
		lang := flagLanguage
		if lang == "" {
			lang = cfg.SubsLanguage
		}
		rs.Subtitle = subtitle.BestMatch(result.Subtitles, lang)
	}
	return rs, nil
}

func displayName(req download.Request) string {
	switch {
	case req.ShowTitle != "" && req.Episode > 0:
		return fmt.Sprintf("%s S%02dE%02d", req.ShowTitle, req.Season, req.Episode)
	case req.Title != "":
		return req.Title
	}
	return req.URL
}

// progressLine redraws a single status line on terminals and stays quiet
// otherwise.
type progressLine struct {
	w     io.Writer
	name  string
	tty   bool
	width int
	last  int
}

func newProgressLine(w io.Writer, name string) *progressLine {
	pl := &progressLine{w: w, name: name, last: -1}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		pl.tty = true
		if width, _, err := term.GetSize(int(f.Fd())); err == nil {
			pl.width = width
		}
	}
	return pl
}

func (p *progressLine) update(fraction float64) {
	if !p.tty {
		return
	}
	pct := int(fraction * 100)
	if pct == p.last {
		return
	}
	p.last = pct
	p.draw(fmt.Sprintf("%s  %3d%%", p.name, pct))
}

func (p *progressLine) finish(status string) {
	if !p.tty {
		return
	}
	p.draw(fmt.Sprintf("%s  %s", p.name, status))
	fmt.Fprintln(p.w)
}

func (p *progressLine) draw(line string) {
	runes := []rune(line)
	if p.width > 0 && len(runes) >= p.width {
		runes = runes[:p.width-1]
		line = string(runes)
	}
	pad := 0
	if p.width > 0 {
		pad = p.width - 1 - len(runes)
	}
	fmt.Fprintf(p.w, "\r%s%s", line, strings.Repeat(" ", max(pad, 0)))
}
