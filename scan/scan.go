// Package scan turns the parsed headers of a framework into framework
// metadata and writes the raw scan files.
package scan

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ardanlabs/objc-metadata/config"
	"github.com/ardanlabs/objc-metadata/metadata"
	"github.com/ardanlabs/objc-metadata/parser"
	"github.com/ardanlabs/objc-metadata/typecodes"
)

// Scanner scans one framework section.
type Scanner struct {
	fw  *config.Framework
	cfg *config.Config
	log *zap.Logger
	now func() time.Time

	// marker is the path fragment identifying files of the framework.
	marker string
}

func New(fw *config.Framework, cfg *config.Config, log *zap.Logger) *Scanner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scanner{
		fw:     fw,
		cfg:    cfg,
		log:    log.With(zap.String("framework", fw.Name)),
		now:    time.Now,
		marker: "/" + fw.Name + ".framework/",
	}
}

// Scan parses the framework headers for arch and converts the
// declarations located in the framework.
func (s *Scanner) Scan(ctx context.Context, arch string) (*metadata.FrameworkMetadata, error) {
	opts, err := s.cfg.ParserOptions(s.fw, arch)
	if err != nil {
		return nil, errors.Wrapf(err, "scanning %s", s.fw.Name)
	}
	opts.Logger = s.log

	s.log.Debug("parsing headers", zap.String("arch", arch), zap.Strings("headers", s.fw.Headers()))
	hdr, err := parser.New(opts).ParseHeaders(ctx, s.fw.Headers()...)
	if err != nil {
		return nil, errors.Wrapf(err, "scanning %s for %s", s.fw.Name, arch)
	}

	return s.Convert(hdr, arch)
}

// Convert builds the metadata for arch from an already parsed header set.
func (s *Scanner) Convert(hdr *parser.Header, arch string) (*metadata.FrameworkMetadata, error) {
	reg, err := typecodes.New(arch, s.fw.Typemap)
	if err != nil {
		return nil, errors.Wrapf(err, "scanning %s", s.fw.Name)
	}
	reg.AddHeader(hdr)

	md := metadata.NewFrameworkMetadata(arch)
	md.SDKVersion = metadata.Ptr(s.cfg.GetSDKVersion())

	c := newConverter(s, reg, md)
	c.run(hdr)

	s.log.Info("scan complete",
		zap.String("arch", arch),
		zap.Int("files", len(hdr.Files)),
		zap.Int("records", md.Count()),
		zap.Int("unencodable", c.unencodable),
	)
	return md, nil
}

// ScanAll scans every arch, at most cfg.MaxWorkers at a time. The result
// is in the order of archs.
func (s *Scanner) ScanAll(ctx context.Context, archs []string) ([]*metadata.FrameworkMetadata, error) {
	results := make([]*metadata.FrameworkMetadata, len(archs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.cfg.MaxWorkers))
	for i, arch := range archs {
		g.Go(func() error {
			md, err := s.Scan(gctx, arch)
			if err != nil {
				return err
			}
			results[i] = md
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// WriteRaw stores md in the raw directory of the framework and returns
// the file name. An empty exceptions file is created when the framework
// does not have one yet.
func (s *Scanner) WriteRaw(md *metadata.FrameworkMetadata) (string, error) {
	sdk := s.cfg.GetSDKVersion()
	if md.SDKVersion != nil {
		sdk = *md.SDKVersion
	}

	raw := s.fw.RawPath(md.Arch(), sdk)
	if err := metadata.SaveFramework(raw, metadata.GeneratedHeader(s.now()), md); err != nil {
		return "", err
	}
	s.log.Info("wrote raw metadata", zap.String("path", raw))

	_, err := os.Stat(s.fw.Exceptions)
	switch {
	case os.IsNotExist(err):
		if err := metadata.SaveExceptions(s.fw.Exceptions, metadata.ExceptionsHeader, metadata.NewExceptionData()); err != nil {
			return raw, err
		}
		s.log.Info("created exceptions file", zap.String("path", s.fw.Exceptions))
	case err != nil:
		return raw, errors.Wrap(err, "checking exceptions file")
	}

	return raw, nil
}

// inFramework reports whether a declaration in file belongs to the
// framework and passes the only_headers filter.
func (s *Scanner) inFramework(file string) bool {
	file = filepath.ToSlash(file)
	i := strings.Index(file, s.marker)
	if i < 0 {
		return false
	}
	if len(s.fw.OnlyHeaders) == 0 {
		return true
	}

	rel := strings.TrimPrefix(file[i+len(s.marker):], "Headers/")
	for _, pattern := range s.fw.OnlyHeaders {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, path.Base(rel)); ok {
			return true
		}
	}
	return false
}
