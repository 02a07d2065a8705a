package validate

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"

	"gopkg.in/ini.v1"

	"github.com/Benny93/contentgraph/internal/content"
)

// PackIgnoreFile is the per-pack file listing ignored codes per file.
const PackIgnoreFile = ".pack-ignore"

const fileSectionPrefix = "file:"

// PackIgnore maps file names to the codes ignored for them.
type PackIgnore struct {
	files map[string][]string
}

// ParsePackIgnore reads a .pack-ignore file. Sections other than
// [file:<name>] are skipped.
func ParsePackIgnore(data []byte) (*PackIgnore, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		AllowBooleanKeys:        true,
		SkipUnrecognizableLines: true,
		IgnoreInlineComment:     true,
	}, data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", PackIgnoreFile, err)
	}
	p := &PackIgnore{files: make(map[string][]string)}
	for _, sec := range f.Sections() {
		name, ok := strings.CutPrefix(sec.Name(), fileSectionPrefix)
		if !ok || !sec.HasKey("ignore") {
			continue
		}
		name = strings.TrimSpace(name)
		for _, code := range sec.Key("ignore").Strings(",") {
			if code != "" {
				p.files[name] = append(p.files[name], code)
			}
		}
	}
	return p, nil
}

// Ignored reports whether code is ignored for the file at filePath.
func (p *PackIgnore) Ignored(filePath, code string) bool {
	if p == nil {
		return false
	}
	for _, c := range p.files[path.Base(filePath)] {
		if c == code {
			return true
		}
	}
	return false
}

// Codes returns the codes ignored for the file name.
func (p *PackIgnore) Codes(fileName string) []string {
	if p == nil {
		return nil
	}
	return p.files[fileName]
}

// packIgnores loads the .pack-ignore of each pack on first use.
type packIgnores struct {
	repo fs.FS

	mu     sync.Mutex
	byPack map[string]*PackIgnore
}

func newPackIgnores(repo fs.FS) *packIgnores {
	return &packIgnores{repo: repo, byPack: make(map[string]*PackIgnore)}
}

// forPath returns the ignore list of the pack holding filePath.
func (p *packIgnores) forPath(filePath string) (*PackIgnore, error) {
	loc, ok := content.Locate(filePath)
	if !ok || p.repo == nil {
		return nil, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if pi, ok := p.byPack[loc.Pack]; ok {
		return pi, nil
	}
	data, err := fs.ReadFile(p.repo, path.Join(content.PacksDir, loc.Pack, PackIgnoreFile))
	if errors.Is(err, fs.ErrNotExist) {
		p.byPack[loc.Pack] = nil
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	pi, err := ParsePackIgnore(data)
	if err != nil {
		p.byPack[loc.Pack] = nil
		return nil, fmt.Errorf("pack %s: %w", loc.Pack, err)
	}
	p.byPack[loc.Pack] = pi
	return pi, nil
}
