// Package doctool drives the documentation toolchains (Sphinx, MkDocs)
// inside the build sandbox and normalizes their output locations. Exactly
// one builder per build is primary; its failure is fatal, every other
// format is best-effort.
package doctool

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docharbor/docharbor/internal/buildconfig"
	"github.com/docharbor/docharbor/internal/logfields"
	"github.com/docharbor/docharbor/internal/metrics"
	"github.com/docharbor/docharbor/internal/sandbox"
)

// Format names one produced documentation format. These are the keys of
// the outcome map emitted at finalize time.
type Format string

const (
	FormatHTML       Format = "html"
	FormatSearch     Format = "search"
	FormatLocalMedia Format = "localmedia"
	FormatPDF        Format = "pdf"
	FormatEpub       Format = "epub"
)

// Policy controls failure containment per format.
type Policy struct {
	Fatal bool
}

// policies is the single source of truth for best-effort vs fatal
// builders. Only the primary HTML build may abort the whole build.
var policies = map[Format]Policy{
	FormatHTML:       {Fatal: true},
	FormatSearch:     {Fatal: false},
	FormatLocalMedia: {Fatal: false},
	FormatPDF:        {Fatal: false},
	FormatEpub:       {Fatal: false},
}

// PolicyFor returns the failure policy of a format.
func PolicyFor(f Format) Policy {
	return policies[f]
}

// Builder is one documentation-format builder.
type Builder interface {
	// AppendConf normalizes the doc tool's own configuration before the
	// build (canonical URL, version metadata).
	AppendConf(ctx context.Context) error

	// Build invokes the underlying tool and reports success.
	Build(ctx context.Context) (bool, error)

	// Move relocates the build output to the canonical artifact path.
	Move(ctx context.Context) error
}

// Options is the shared wiring of all builders.
type Options struct {
	Sandbox      sandbox.Environment
	Config       *buildconfig.BuildConfig
	CheckoutPath string
	OutputPath   string // $READTHEDOCS_OUTPUT
	EnvPath      string // language environment prefix
	ProjectSlug  string
	VersionSlug  string
	CanonicalURL string
}

func (o Options) pythonBin() string {
	return fmt.Sprintf("%s/bin/python", o.EnvPath)
}

// New constructs the builder for a format under the configured doctype.
func New(doctype buildconfig.Doctype, format Format, opts Options) (Builder, error) {
	if doctype == buildconfig.DoctypeMkDocs {
		if format != FormatHTML {
			return nil, fmt.Errorf("mkdocs produces html only, not %s", format)
		}
		return &MkDocs{opts: opts}, nil
	}

	switch format {
	case FormatHTML:
		return &Sphinx{opts: opts, builder: sphinxBuilderName(doctype), outputDir: "html"}, nil
	case FormatLocalMedia:
		return &SphinxLocalMedia{Sphinx{opts: opts, builder: "singlehtml", outputDir: "htmlzip"}}, nil
	case FormatPDF:
		return &SphinxPDF{Sphinx{opts: opts, builder: "latex", outputDir: "pdf"}}, nil
	case FormatEpub:
		return &SphinxEpub{Sphinx{opts: opts, builder: "epub", outputDir: "epub"}}, nil
	default:
		return nil, fmt.Errorf("no builder for format %s", format)
	}
}

func sphinxBuilderName(doctype buildconfig.Doctype) string {
	switch doctype {
	case buildconfig.DoctypeSphinxHTMLDir:
		return "dirhtml"
	case buildconfig.DoctypeSphinxSingleHTML:
		return "singlehtml"
	default:
		return "html"
	}
}

// RunFormat executes one builder under its failure policy and records the
// result. Non-fatal failures are contained: the error is logged, the
// outcome is false, and the caller continues with sibling formats.
func RunFormat(ctx context.Context, format Format, b Builder, rec metrics.Recorder) (bool, error) {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}

	run := func() (bool, error) {
		if err := b.AppendConf(ctx); err != nil {
			return false, err
		}
		ok, err := b.Build(ctx)
		if err != nil || !ok {
			return false, err
		}
		if err := b.Move(ctx); err != nil {
			return false, err
		}
		return true, nil
	}

	ok, err := run()
	rec.IncFormatResult(string(format), ok)

	if err != nil || !ok {
		if PolicyFor(format).Fatal {
			if err == nil {
				err = fmt.Errorf("%s builder failed", format)
			}
			return false, err
		}
		slog.Warn("Non-primary format build failed",
			logfields.Format(string(format)),
			logfields.Error(err))
		return false, nil
	}
	return true, nil
}
