package doctool

import (
	"context"
	"fmt"
	"path"

	"github.com/docharbor/docharbor/internal/sandbox"
)

// Sphinx builds one sphinx output format.
type Sphinx struct {
	opts      Options
	builder   string // sphinx -b argument
	outputDir string // subdirectory of $READTHEDOCS_OUTPUT
}

func (s *Sphinx) confDir() string {
	if c := s.opts.Config.Sphinx.Configuration; c != "" {
		return path.Join(s.opts.CheckoutPath, path.Dir(c))
	}
	return s.opts.CheckoutPath
}

func (s *Sphinx) out() string {
	return path.Join(s.opts.OutputPath, s.outputDir)
}

// AppendConf appends the build context to conf.py so templates can render
// canonical URLs and the version picker.
func (s *Sphinx) AppendConf(ctx context.Context) error {
	extra := fmt.Sprintf(
		"\n\n# Injected by the documentation build service.\n"+
			"html_context = globals().get('html_context', {})\n"+
			"html_context.update({'slug': %q, 'version_slug': %q, 'canonical_url': %q})\n"+
			"html_baseurl = %q\n",
		s.opts.ProjectSlug, s.opts.VersionSlug, s.opts.CanonicalURL, s.opts.CanonicalURL)

	_, err := s.opts.Sandbox.Run(ctx, sandbox.RunOptions{
		Cwd:           s.confDir(),
		Shell:         true,
		DemandSuccess: true,
	}, fmt.Sprintf("cat >> conf.py <<'DOCHARBOR_EOF'\n%s\nDOCHARBOR_EOF", extra))
	return err
}

// Build runs sphinx. A non-zero exit is a failed build, not an error: the
// caller's policy decides whether that is fatal.
func (s *Sphinx) Build(ctx context.Context) (bool, error) {
	args := []string{
		s.opts.pythonBin(), "-m", "sphinx",
		"-T", "-b", s.builder,
		"-d", "_build/doctrees",
		"-D", "language=en",
	}
	if s.opts.Config.Sphinx.FailOnWarning {
		args = append(args, "-W", "--keep-going")
	}
	args = append(args, ".", s.out())

	res, err := s.opts.Sandbox.Run(ctx, sandbox.RunOptions{Cwd: s.confDir()}, args...)
	if err != nil {
		return false, err
	}
	return res.Successful(), nil
}

// Move is a no-op for plain sphinx: the build already wrote into the
// canonical output path.
func (s *Sphinx) Move(context.Context) error { return nil }

// SphinxLocalMedia produces the downloadable htmlzip archive.
type SphinxLocalMedia struct {
	Sphinx
}

// Move zips the singlehtml output into the archive users download.
func (s *SphinxLocalMedia) Move(ctx context.Context) error {
	archive := fmt.Sprintf("%s.zip", s.opts.ProjectSlug)
	_, err := s.opts.Sandbox.Run(ctx, sandbox.RunOptions{
		Cwd:           s.out(),
		Shell:         true,
		DemandSuccess: true,
	}, fmt.Sprintf("zip -r -q %s . && mv %s .", archive, archive))
	return err
}

// SphinxPDF builds latex output and runs it through latexmk.
type SphinxPDF struct {
	Sphinx
}

func (s *SphinxPDF) Build(ctx context.Context) (bool, error) {
	ok, err := s.Sphinx.Build(ctx)
	if err != nil || !ok {
		return ok, err
	}
	res, err := s.opts.Sandbox.Run(ctx, sandbox.RunOptions{Cwd: s.out()},
		"latexmk", "-r", "latexmkrc", "-pdf", "-f", "-dvi-", "-ps-", "-interaction=nonstopmode")
	if err != nil {
		return false, err
	}
	return res.Successful(), nil
}

// Move keeps only the final pdf in the output directory.
func (s *SphinxPDF) Move(ctx context.Context) error {
	_, err := s.opts.Sandbox.Run(ctx, sandbox.RunOptions{
		Cwd:           s.out(),
		Shell:         true,
		DemandSuccess: true,
	}, fmt.Sprintf("mv *.pdf %s.pdf 2>/dev/null; find . ! -name '*.pdf' -type f -delete", s.opts.ProjectSlug))
	return err
}

// SphinxEpub builds the epub download.
type SphinxEpub struct {
	Sphinx
}

// Move keeps only the final epub in the output directory.
func (s *SphinxEpub) Move(ctx context.Context) error {
	_, err := s.opts.Sandbox.Run(ctx, sandbox.RunOptions{
		Cwd:           s.out(),
		Shell:         true,
		DemandSuccess: true,
	}, fmt.Sprintf("mv *.epub %s.epub 2>/dev/null; find . ! -name '*.epub' -type f -delete", s.opts.ProjectSlug))
	return err
}
