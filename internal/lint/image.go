package lint

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Requirement sets installed into test images.
var (
	Python3Requirements = []string{
		"flake8", "bandit", "mypy", "vulture", "pylint", "pytest", "pytest-mock",
		"requests-mock", "pytest-asyncio", "pytest-xdist", "freezegun", "pytest-json",
		"types-requests", "types-python-dateutil",
	}
	Python2Requirements = []string{
		"flake8", "vulture", "pylint", "pytest", "pytest-mock", "requests-mock", "mock", "freezegun",
	}
)

// pwshPython is the python version reported for powershell images.
const pwshPython = "3.8"

var dockerfile = template.Must(template.New("Dockerfile").Parse(`FROM {{ .Base }}
USER root
{{- if .Powershell }}
RUN pwsh -Command Set-PSRepository -Name PSGallery -InstallationPolicy Trusted -ErrorAction Stop
RUN pwsh -Command Install-Module -Name Pester -Scope AllUsers -Force -ErrorAction Stop
RUN pwsh -Command Install-Module -Name PSScriptAnalyzer -Scope AllUsers -Force -ErrorAction Stop
{{- else }}
RUN python -m pip install --no-cache-dir{{ range .Requirements }} '{{ . }}'{{ end }}
{{- end }}
RUN mkdir -p /devwork && chown -R :4000 /devwork && chmod -R 775 /devwork
WORKDIR /devwork
`))

// TestImage is a built lint image.
type TestImage struct {
	Base   string
	Tag    string
	Python string
}

// imageRequest is one image to build.
type imageRequest struct {
	Base         string
	Language     Language
	Subtype      string
	Requirements []string
}

func (r imageRequest) key() string {
	reqs := slices.Clone(r.Requirements)
	slices.Sort(reqs)
	return string(r.Language) + "|" + r.Base + "|" + strings.Join(reqs, ",")
}

// BuildOptions configures the image stage.
type BuildOptions struct {
	// Tries is the number of build attempts, at least one.
	Tries int
	// Delay separates build attempts.
	Delay time.Duration
	// PushUser and PushPassword enable pushing built images.
	PushUser     string
	PushPassword string
	// Parallel bounds concurrent builds.
	Parallel int
}

// DefaultBuildTries is 3 in CI and 1 otherwise.
func DefaultBuildTries(ci bool) int {
	if ci {
		return 3
	}
	return 1
}

// ImageBuilder builds and caches test images.
type ImageBuilder struct {
	docker Docker
	opts   BuildOptions
	logger *zap.Logger

	login     sync.Once
	loginErr  error
	mu        sync.Mutex
	pythonVer map[string]string
}

// NewImageBuilder creates a builder.
func NewImageBuilder(docker Docker, opts BuildOptions, logger *zap.Logger) *ImageBuilder {
	if opts.Tries < 1 {
		opts.Tries = 1
	}
	if opts.Parallel < 1 {
		opts.Parallel = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImageBuilder{docker: docker, opts: opts, logger: logger, pythonVer: make(map[string]string)}
}

// PythonVersion returns the python version of base, from its tag when it
// carries one and from the image otherwise.
func (b *ImageBuilder) PythonVersion(ctx context.Context, base string, lang Language, subtype string) (string, error) {
	if lang == LanguagePowershell {
		return pwshPython, nil
	}
	if v := pythonFromImage(base); v != "" {
		return v, nil
	}
	b.mu.Lock()
	v, ok := b.pythonVer[base]
	b.mu.Unlock()
	if ok {
		return v, nil
	}
	if err := b.ensureBase(ctx, base); err != nil {
		return "", err
	}
	v, err := b.docker.PythonVersion(ctx, base)
	if err != nil {
		b.logger.Warn("reading python version from image failed, using subtype",
			zap.String("image", base), zap.Error(err))
		v = "3.7"
		if subtype == "python2" {
			v = "2.7"
		}
	}
	b.mu.Lock()
	b.pythonVer[base] = v
	b.mu.Unlock()
	return v, nil
}

func (b *ImageBuilder) ensureBase(ctx context.Context, base string) error {
	ok, err := b.docker.ImageExists(ctx, base)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	b.logger.Info("pulling image", zap.String("image", base))
	if err := b.docker.Pull(ctx, base); err != nil {
		return fmt.Errorf("pulling %s: %w", base, err)
	}
	return nil
}

// Dockerfile renders the test image definition.
func Dockerfile(base string, lang Language, python string, extra []string) ([]byte, error) {
	reqs := Python3Requirements
	if strings.HasPrefix(python, "2.") {
		reqs = Python2Requirements
	}
	reqs = append(slices.Clone(reqs), extra...)
	var buf bytes.Buffer
	err := dockerfile.Execute(&buf, map[string]any{
		"Base":         base,
		"Powershell":   lang == LanguagePowershell,
		"Requirements": reqs,
	})
	if err != nil {
		return nil, fmt.Errorf("rendering dockerfile: %w", err)
	}
	return buf.Bytes(), nil
}

// ImageTag names the test image of base built from df. The hash makes the
// tag a cache key.
func ImageTag(base string, df []byte) string {
	sum := sha256.Sum256(df)
	return "devtest" + base + "-" + hex.EncodeToString(sum[:])
}

// Build builds the test image for one request, reusing an existing image
// with the same tag.
func (b *ImageBuilder) Build(ctx context.Context, req imageRequest) (TestImage, error) {
	python, err := b.PythonVersion(ctx, req.Base, req.Language, req.Subtype)
	if err != nil {
		return TestImage{}, err
	}
	df, err := Dockerfile(req.Base, req.Language, python, req.Requirements)
	if err != nil {
		return TestImage{}, err
	}
	img := TestImage{Base: req.Base, Tag: ImageTag(req.Base, df), Python: python}
	log := b.logger.With(zap.String("image", img.Tag))

	exists, err := b.docker.ImageExists(ctx, img.Tag)
	if err != nil {
		return TestImage{}, err
	}
	if exists {
		log.Debug("reusing test image")
		return img, nil
	}
	if b.opts.PushUser != "" {
		if err := b.docker.Pull(ctx, img.Tag); err == nil {
			log.Debug("pulled cached test image")
			return img, nil
		}
	}
	if err := b.ensureBase(ctx, req.Base); err != nil {
		return TestImage{}, err
	}

	attempt := 0
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(b.opts.Delay), uint64(b.opts.Tries-1)), ctx)
	err = backoff.Retry(func() error {
		attempt++
		if err := b.docker.Build(ctx, img.Tag, df); err != nil {
			log.Warn("building test image failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		return nil
	}, policy)
	if err != nil {
		return TestImage{}, fmt.Errorf("building %s after %d attempts: %w", img.Tag, attempt, err)
	}
	log.Info("built test image", zap.Int("attempts", attempt))
	b.push(ctx, img.Tag, log)
	return img, nil
}

// push uploads tag when credentials are configured. Failures are logged.
func (b *ImageBuilder) push(ctx context.Context, tag string, log *zap.Logger) {
	if b.opts.PushUser == "" || b.opts.PushPassword == "" {
		return
	}
	b.login.Do(func() {
		b.loginErr = b.docker.Login(ctx, b.opts.PushUser, b.opts.PushPassword)
	})
	if b.loginErr != nil {
		log.Warn("docker login failed, not pushing", zap.Error(b.loginErr))
		return
	}
	if err := b.docker.Push(ctx, tag); err != nil {
		log.Warn("pushing test image failed", zap.Error(err))
	}
}

// imageOutcome is the result of building one request.
type imageOutcome struct {
	Image TestImage
	Err   error
}

// BuildAll builds every distinct request in parallel. A failed build is
// reported in its outcome and does not stop the others.
func (b *ImageBuilder) BuildAll(ctx context.Context, reqs []imageRequest) map[string]imageOutcome {
	var (
		mu  sync.Mutex
		out = make(map[string]imageOutcome, len(reqs))
		g   errgroup.Group
	)
	g.SetLimit(b.opts.Parallel)
	for _, req := range reqs {
		key := req.key()
		mu.Lock()
		_, seen := out[key]
		if !seen {
			out[key] = imageOutcome{}
		}
		mu.Unlock()
		if seen {
			continue
		}
		g.Go(func() error {
			img, err := b.Build(ctx, req)
			mu.Lock()
			out[key] = imageOutcome{Image: img, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
