package parsers

import (
	"fmt"
	"path"
	"strings"

	"github.com/Benny93/contentgraph/internal/content"
)

// ReleaseNoteParser parses pack release-note markdown files.
type ReleaseNoteParser struct{}

// Types returns the content types this parser handles.
func (p *ReleaseNoteParser) Types() []content.Type {
	return []content.Type{content.TypeReleaseNote}
}

// Parse reads the version from the file name and records every line and
// "#### <Header>" line of the note.
func (p *ReleaseNoteParser) Parse(src *Source) (*ParseResult, error) {
	loc, ok := content.Locate(src.Path)
	if !ok {
		return nil, fmt.Errorf("release note %s: not under %s/", src.Path, content.PacksDir)
	}
	version := content.VersionFromFileName(path.Base(src.Path))
	if version == "" {
		return nil, fmt.Errorf("release note %s: file name is not a version", src.Path)
	}
	id := loc.Pack + "_" + version
	item := newItem(src, content.TypeReleaseNote, nil, id, id)
	item.Raw = nil

	data := &content.ReleaseNoteData{Version: version}
	text := strings.ReplaceAll(string(src.Content), "\r\n", "\n")
	for i, line := range strings.Split(text, "\n") {
		data.Lines = append(data.Lines, line)
		trimmed := strings.TrimSpace(line)
		if header, ok := strings.CutPrefix(trimmed, "#### "); ok {
			data.Headers = append(data.Headers, content.ReleaseNoteHeader{
				Text: strings.TrimSpace(header),
				Line: i + 1,
			})
		}
	}
	item.ReleaseNote = data
	return &ParseResult{Item: item}, nil
}
