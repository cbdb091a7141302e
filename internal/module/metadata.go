package module

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"sora/internal/httputil"
	"sora/internal/media"
)

// ParseMetadata decodes and validates a module metadata document. The
// author may be given as {name, icon} or as a plain string.
func ParseMetadata(data []byte) (media.ModuleMetadata, error) {
	if !gjson.ValidBytes(data) {
		return media.ModuleMetadata{}, fmt.Errorf("%w: not valid JSON", ErrInvalidMetadata)
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return media.ModuleMetadata{}, fmt.Errorf("%w: expected a JSON object", ErrInvalidMetadata)
	}

	md := media.ModuleMetadata{
		SourceName:    strings.TrimSpace(doc.Get("sourceName").String()),
		IconURL:       doc.Get("iconUrl").String(),
		Version:       doc.Get("version").String(),
		Language:      doc.Get("language").String(),
		BaseURL:       doc.Get("baseUrl").String(),
		SearchBaseURL: doc.Get("searchBaseUrl").String(),
		ScriptURL:     strings.TrimSpace(doc.Get("scriptUrl").String()),
		StreamType:    media.StreamType(strings.ToLower(doc.Get("streamType").String())),
		Quality:       doc.Get("quality").String(),
		Extractor:     doc.Get("extractor").String(),
		AsyncJS:       doc.Get("asyncJS").Bool(),
		Type:          doc.Get("type").String(),
	}

	switch author := doc.Get("author"); {
	case author.IsObject():
		md.Author = media.Author{Name: author.Get("name").String(), Icon: author.Get("icon").String()}
	case author.Type == gjson.String:
		md.Author = media.Author{Name: author.String()}
	}

	if md.SourceName == "" {
		return media.ModuleMetadata{}, fmt.Errorf("%w: missing sourceName", ErrInvalidMetadata)
	}
	if err := httputil.ValidateURL(md.ScriptURL); err != nil {
		return media.ModuleMetadata{}, fmt.Errorf("%w: scriptUrl: %v", ErrInvalidMetadata, err)
	}
	if md.SearchBaseURL != "" && !md.AsyncJS && !strings.Contains(md.SearchBaseURL, "%s") {
		return media.ModuleMetadata{}, fmt.Errorf("%w: searchBaseUrl has no %%s placeholder", ErrInvalidMetadata)
	}
	return md, nil
}
