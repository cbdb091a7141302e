package sandbox

import (
	"strings"

	"github.com/tidwall/gjson"

	"sora/internal/media"
)

// objects yields the object elements of a JSON array. Anything else,
// including malformed JSON, yields nothing.
func objects(raw string, fn func(gjson.Result)) {
	raw = strings.TrimSpace(raw)
	if raw == "" || !gjson.Valid(raw) {
		return
	}
	res := gjson.Parse(raw)
	if !res.IsArray() {
		return
	}
	res.ForEach(func(_, item gjson.Result) bool {
		if item.IsObject() {
			fn(item)
		}
		return true
	})
}

// DecodeSearch decodes searchResults output.
func DecodeSearch(raw string) []media.SearchItem {
	items := []media.SearchItem{}
	objects(raw, func(r gjson.Result) {
		item := media.SearchItem{
			Title: r.Get("title").String(),
			Image: r.Get("image").String(),
			Href:  r.Get("href").String(),
		}
		if item.Href == "" && item.Title == "" {
			return
		}
		items = append(items, item)
	})
	return items
}

// DecodeDetails decodes extractDetails output.
func DecodeDetails(raw string) []media.MediaDetails {
	details := []media.MediaDetails{}
	objects(raw, func(r gjson.Result) {
		details = append(details, media.MediaDetails{
			Description: r.Get("description").String(),
			Aliases:     r.Get("aliases").String(),
			AirDate:     r.Get("airdate").String(),
		})
	})
	return details
}

// DecodeEpisodes decodes extractEpisodes output. Entries without an href
// are dropped.
func DecodeEpisodes(raw string) []media.EpisodeLink {
	episodes := []media.EpisodeLink{}
	objects(raw, func(r gjson.Result) {
		href := r.Get("href").String()
		if href == "" {
			return
		}
		episodes = append(episodes, media.EpisodeLink{
			Number: int(r.Get("number").Float()),
			Title:  r.Get("title").String(),
			Href:   href,
		})
	})
	return episodes
}

// DecodeStream decodes extractStreamUrl output. It accepts a bare URL, a
// JSON string, {stream: "..."} or {streams: [...], subtitles: ...} where
// streams holds URL strings, alternating title/URL pairs or objects.
func DecodeStream(raw string) media.StreamResult {
	result := media.StreamResult{Streams: []media.Stream{}}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return result
	}
	if !gjson.Valid(raw) {
		if isURL(raw) {
			result.Streams = append(result.Streams, media.Stream{URL: raw})
		}
		return result
	}

	res := gjson.Parse(raw)
	switch {
	case res.Type == gjson.String:
		if isURL(res.String()) {
			result.Streams = append(result.Streams, media.Stream{URL: res.String()})
		}
	case res.IsArray():
		result.Streams = decodeStreamList(res)
	case res.IsObject():
		if s := res.Get("stream"); s.Exists() {
			result.Streams = decodeStreamList(s)
		}
		if s := res.Get("streams"); s.Exists() {
			result.Streams = append(result.Streams, decodeStreamList(s)...)
		}
		result.Subtitles = decodeSubtitles(res.Get("subtitles"))
	}
	return result
}

func decodeStreamList(list gjson.Result) []media.Stream {
	streams := []media.Stream{}
	if list.Type == gjson.String {
		if isURL(list.String()) {
			streams = append(streams, media.Stream{URL: list.String()})
		}
		return streams
	}
	if list.IsObject() {
		if s, ok := streamObject(list); ok {
			streams = append(streams, s)
		}
		return streams
	}
	if !list.IsArray() {
		return streams
	}

	elems := list.Array()
	allStrings, allURLs := true, true
	for _, e := range elems {
		if e.Type != gjson.String {
			allStrings = false
			break
		}
		if !isURL(e.String()) {
			allURLs = false
		}
	}

	switch {
	case allStrings && !allURLs:
		for i := 0; i+1 < len(elems); i += 2 {
			if u := elems[i+1].String(); isURL(u) {
				streams = append(streams, media.Stream{Title: elems[i].String(), URL: u})
			}
		}
	default:
		for _, e := range elems {
			if e.Type == gjson.String {
				if isURL(e.String()) {
					streams = append(streams, media.Stream{URL: e.String()})
				}
				continue
			}
			if s, ok := streamObject(e); ok {
				streams = append(streams, s)
			}
		}
	}
	return streams
}

func streamObject(r gjson.Result) (media.Stream, bool) {
	if !r.IsObject() {
		return media.Stream{}, false
	}
	var url string
	for _, key := range []string{"streamUrl", "url", "stream", "file"} {
		if v := r.Get(key); v.Type == gjson.String && v.String() != "" {
			url = v.String()
			break
		}
	}
	if !isURL(url) {
		return media.Stream{}, false
	}
	s := media.Stream{Title: r.Get("title").String(), URL: url}
	if h := r.Get("headers"); h.IsObject() {
		s.Headers = map[string]string{}
		h.ForEach(func(k, v gjson.Result) bool {
			s.Headers[k.String()] = v.String()
			return true
		})
	}
	return s, true
}

func decodeSubtitles(r gjson.Result) []media.Subtitle {
	if !r.Exists() {
		return nil
	}
	var subs []media.Subtitle
	add := func(e gjson.Result) {
		switch {
		case e.Type == gjson.String && isURL(e.String()):
			subs = append(subs, media.Subtitle{URL: e.String()})
		case e.IsObject():
			u := e.Get("url").String()
			if u == "" {
				u = e.Get("file").String()
			}
			if !isURL(u) {
				return
			}
			subs = append(subs, media.Subtitle{
				URL:      u,
				Label:    e.Get("label").String(),
				Language: e.Get("language").String(),
			})
		}
	}
	if r.IsArray() {
		r.ForEach(func(_, e gjson.Result) bool {
			add(e)
			return true
		})
	} else {
		add(r)
	}
	return subs
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
