package cmd

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sora/internal/history"
	"sora/internal/manifest"
	"sora/internal/media"
	"sora/internal/player"
	"sora/internal/subtitle"
)

var (
	flagStreamIndex int
	flagLanguage    string
	flagNoSubs      bool
	flagTitle       string
	flagEpisode     int
	flagImage       string
	flagContinue    bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the selected module",
	Args:  cobra.MinimumNArgs(1),
	RunE:  searchRun,
}

var detailsCmd = &cobra.Command{
	Use:   "details <url>",
	Short: "Show details for a title page",
	Args:  cobra.ExactArgs(1),
	RunE:  detailsRun,
}

var episodesCmd = &cobra.Command{
	Use:   "episodes <url>",
	Short: "List episodes or chapters of a title page",
	Args:  cobra.ExactArgs(1),
	RunE:  episodesRun,
}

var streamCmd = &cobra.Command{
	Use:   "stream <episode-url>",
	Short: "Extract and resolve the stream for an episode",
	Args:  cobra.ExactArgs(1),
	RunE:  streamRun,
}

var playCmd = &cobra.Command{
	Use:   "play <episode-url>",
	Short: "Play an episode and record continue-watching progress",
	Args:  cobra.ExactArgs(1),
	RunE:  playRun,
}

func init() {
	for _, c := range []*cobra.Command{streamCmd, playCmd} {
		c.Flags().IntVarP(&flagStreamIndex, "stream", "s", 0, "Index of the stream to use when the module returns several")
		c.Flags().StringVarP(&flagLanguage, "language", "l", "", "Subtitle language (default: config subs_language)")
		c.Flags().BoolVarP(&flagNoSubs, "no-subs", "n", false, "Disable subtitles")
	}
	playCmd.Flags().StringVarP(&flagTitle, "title", "t", "", "Show title stored in continue watching")
	playCmd.Flags().IntVarP(&flagEpisode, "episode", "e", 0, "Episode number (default: guessed from the URL)")
	playCmd.Flags().StringVar(&flagImage, "image", "", "Poster image URL")
	playCmd.Flags().BoolVarP(&flagContinue, "continue", "c", false, "Resume from the last recorded position")
}

func searchRun(cmd *cobra.Command, args []string) error {
	p, err := activeProvider()
	if err != nil {
		return err
	}
	query := strings.Join(args, " ")
	app.logger.Debug("searching", zap.String("query", query))

	results, err := p.Search(commandContext(cmd), query)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if flagJSON {
		if results == nil {
			results = []media.SearchItem{}
		}
		return printJSON(cmd.OutOrStdout(), results)
	}
	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No results.")
		return nil
	}
	rows := make([][]string, 0, len(results))
	for i, r := range results {
		rows = append(rows, []string{strconv.Itoa(i + 1), r.Title, r.Href})
	}
	return printTable(cmd.OutOrStdout(), []string{"#", "TITLE", "URL"}, rows)
}

func detailsRun(cmd *cobra.Command, args []string) error {
	p, err := activeProvider()
	if err != nil {
		return err
	}
	details, err := p.Details(commandContext(cmd), args[0])
	if err != nil {
		return fmt.Errorf("getting details: %w", err)
	}
	if flagJSON {
		if details == nil {
			details = []media.MediaDetails{}
		}
		return printJSON(cmd.OutOrStdout(), details)
	}
	if len(details) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No details.")
		return nil
	}
	for _, d := range details {
		if d.Aliases != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Aliases:  %s\n", d.Aliases)
		}
		if d.AirDate != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Aired:    %s\n", d.AirDate)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n", d.Description)
	}
	return nil
}

func episodesRun(cmd *cobra.Command, args []string) error {
	p, err := activeProvider()
	if err != nil {
		return err
	}
	episodes, err := p.Episodes(commandContext(cmd), args[0])
	if err != nil {
		return fmt.Errorf("getting episodes: %w", err)
	}
	if flagJSON {
		if episodes == nil {
			episodes = []media.EpisodeLink{}
		}
		return printJSON(cmd.OutOrStdout(), episodes)
	}
	if len(episodes) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No episodes found.")
		return nil
	}
	rows := make([][]string, 0, len(episodes))
	for _, ep := range episodes {
		rows = append(rows, []string{strconv.Itoa(ep.Number), ep.Title, ep.Href})
	}
	return printTable(cmd.OutOrStdout(), []string{"EP", "TITLE", "URL"}, rows)
}

// resolvedStream is a module stream after variant selection.
type resolvedStream struct {
	Module    media.Module       `json:"-"`
	Stream    media.Stream       `json:"stream"`
	URL       string             `json:"url"`
	Label     string             `json:"label,omitempty"`
	Variants  []manifest.Variant `json:"variants,omitempty"`
	Subtitle  *media.Subtitle    `json:"subtitle,omitempty"`
	Subtitles []media.Subtitle   `json:"subtitles,omitempty"`
}

// resolveStream runs the module's stream extraction for episodeURL and
// resolves HLS manifests against the playback quality.
func resolveStream(ctx context.Context, episodeURL string) (resolvedStream, error) {
	p, err := activeProvider()
	if err != nil {
		return resolvedStream{}, err
	}
	result, err := p.Stream(ctx, episodeURL)
	if err != nil {
		return resolvedStream{}, fmt.Errorf("extracting stream: %w", err)
	}
	if len(result.Streams) == 0 {
		return resolvedStream{}, fmt.Errorf("module returned no streams for %s", episodeURL)
	}
	if flagStreamIndex < 0 || flagStreamIndex >= len(result.Streams) {
		return resolvedStream{}, fmt.Errorf("stream index %d out of range (module returned %d)", flagStreamIndex, len(result.Streams))
	}

	s := result.Streams[flagStreamIndex]
	out := resolvedStream{
		Module:    p.Module(),
		Stream:    s,
		URL:       s.URL,
		Subtitles: result.Subtitles,
	}

	if isManifest(s.URL, p.Module().Metadata.StreamType) {
		res, err := manifest.NewResolver(nil, app.logger).
			Resolve(ctx, s.URL, s.Headers, media.ParseQuality(cfg.PlaybackQuality))
		if err != nil {
			return resolvedStream{}, fmt.Errorf("resolving manifest: %w", err)
		}
		out.URL, out.Label, out.Variants = res.URL, res.Label, res.Variants
	}

	if !flagNoSubs {
		lang := flagLanguage
		if lang == "" {
			lang = cfg.SubsLanguage
		}
		out.Subtitle = subtitle.BestMatch(result.Subtitles, lang)
	}
	return out, nil
}

func isManifest(rawURL string, declared media.StreamType) bool {
	if declared.IsHLS() {
		return true
	}
	u, err := url.Parse(rawURL)
	return err == nil && strings.EqualFold(path.Ext(u.Path), ".m3u8")
}

func streamRun(cmd *cobra.Command, args []string) error {
	rs, err := resolveStream(commandContext(cmd), args[0])
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), rs)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "URL:      %s\n", rs.URL)
	if rs.Label != "" {
		fmt.Fprintf(w, "Quality:  %s\n", rs.Label)
	}
	for _, v := range rs.Variants {
		fmt.Fprintf(w, "          %s %s\n", v.Label, v.URL)
	}
	if rs.Subtitle != nil {
		fmt.Fprintf(w, "Subtitle: %s\n", rs.Subtitle.URL)
	}
	return nil
}

func playRun(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	episodeURL := args[0]

	rs, err := resolveStream(ctx, episodeURL)
	if err != nil {
		return err
	}

	pl, err := player.New(cfg.Player, app.watching, app.logger)
	if err != nil {
		return err
	}
	if !pl.Available() {
		return fmt.Errorf("player %q not found in PATH", pl.Name())
	}

	episode := flagEpisode
	if episode == 0 {
		episode = episodeFromURL(episodeURL)
	}
	title := flagTitle
	if title == "" {
		title = rs.Module.Metadata.SourceName
	}
	displayTitle := title
	if episode > 0 {
		displayTitle = fmt.Sprintf("%s - Episode %d", title, episode)
	}

	req := player.Request{
		URL:         rs.URL,
		Headers:     rs.Stream.Headers,
		Title:       displayTitle,
		ProgressKey: episodeURL,
	}
	if rs.Subtitle != nil {
		req.Subtitle = rs.Subtitle.URL
	}
	if flagContinue {
		if pos, _, ok := app.watching.LastPlayed(episodeURL); ok {
			req.StartPos = pos
			app.logger.Debug("resuming", zap.String("position", player.FormatDuration(pos)))
		}
	}

	res, err := pl.Play(ctx, req)
	if err != nil {
		return fmt.Errorf("playback failed: %w", err)
	}

	item := history.WatchingItem{
		ImageURL:      flagImage,
		EpisodeNumber: episode,
		MediaTitle:    title,
		Progress:      res.Fraction(),
		StreamURL:     rs.URL,
		FullURL:       episodeURL,
		Module:        rs.Module,
		Headers:       rs.Stream.Headers,
	}
	if rs.Subtitle != nil {
		item.SubtitleURL = rs.Subtitle.URL
	}
	if err := app.watching.Save(item); err != nil {
		return fmt.Errorf("saving progress: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Stopped at %s of %s\n", player.FormatDuration(res.Position), player.FormatDuration(res.Duration))
	return nil
}

// episodeFromURL takes the last number in the URL path, e.g. ".../ep-12".
func episodeFromURL(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	s := u.Path + "?" + u.RawQuery
	end := -1
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c >= '0' && c <= '9' {
			if end < 0 {
				end = i + 1
			}
			continue
		}
		if end >= 0 {
			n, _ := strconv.Atoi(s[i+1 : end])
			return n
		}
	}
	if end >= 0 {
		n, _ := strconv.Atoi(s[:end])
		return n
	}
	return 0
}
