// Package config loads the metadata.yaml file that describes which
// frameworks to scan and where their metadata lives.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"bitbucket.org/creachadair/shell"
	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/ardanlabs/objc-metadata/parser"
)

// Config holds the global settings and one section per framework.
type Config struct {
	// SDK settings
	SDKRoot       string   `yaml:"sdk_root"`
	SDKVersion    string   `yaml:"sdk_version"`
	Archs         []string `yaml:"archs"`
	MinDeployment string   `yaml:"min_deployment"`

	// Upper bound on concurrent architecture scans
	MaxWorkers int `yaml:"max_workers"`

	Logging LoggingConfig `yaml:"logging"`

	// Frameworks is keyed by section name.
	Frameworks map[string]*Framework `yaml:"frameworks"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

// Framework describes one framework section.
type Framework struct {
	Name           string            `yaml:"name"`
	StartHeader    string            `yaml:"start_header"`
	PreHeaders     []string          `yaml:"pre_headers"`
	PostHeaders    []string          `yaml:"post_headers"`
	OnlyHeaders    []string          `yaml:"only_headers"`
	Raw            string            `yaml:"raw"`
	Exceptions     string            `yaml:"exceptions"`
	Merged         string            `yaml:"merged"`
	Compiled       string            `yaml:"compiled"`
	Package        string            `yaml:"package"`
	LinkFramework  string            `yaml:"link_framework"`
	CFlags         string            `yaml:"cflags"`
	Typemap        map[string]string `yaml:"typemap"`
	StrictIncludes bool              `yaml:"strict_includes"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SDKRoot:       "/Applications/Xcode.app/Contents/Developer/Platforms/MacOSX.platform/Developer/SDKs/MacOSX.sdk",
		Archs:         []string{"x86_64", "arm64"},
		MinDeployment: "10.9",
		MaxWorkers:    4,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Frameworks: make(map[string]*Framework),
	}
}

// Load loads configuration from a YAML file. Relative paths in framework
// sections are resolved against the directory holding the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Frameworks == nil {
		cfg.Frameworks = make(map[string]*Framework)
	}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config directory: %w", err)
	}
	for section, fw := range cfg.Frameworks {
		if fw == nil {
			return nil, fmt.Errorf("framework section %q is empty", section)
		}
		fw.applyDefaults(section, dir)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if root := os.Getenv("OBJC_METADATA_SDK_ROOT"); root != "" {
		c.SDKRoot = root
	}
	if archs := os.Getenv("OBJC_METADATA_ARCHS"); archs != "" {
		c.Archs = nil
		for _, a := range strings.Split(archs, ",") {
			if a = strings.TrimSpace(a); a != "" {
				c.Archs = append(c.Archs, a)
			}
		}
	}
	if level := os.Getenv("OBJC_METADATA_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

func (fw *Framework) applyDefaults(section, dir string) {
	if fw.Name == "" {
		fw.Name = section
	}
	if fw.StartHeader == "" {
		fw.StartHeader = fw.Name + "/" + fw.Name + ".h"
	}
	if fw.LinkFramework == "" {
		fw.LinkFramework = fw.Name
	}
	if fw.Package == "" {
		fw.Package = strings.ToLower(fw.Name)
	}

	fw.Raw = resolve(dir, fw.Raw, "raw")
	fw.Exceptions = resolve(dir, fw.Exceptions, fw.Name+".fwinfo")
	fw.Merged = resolve(dir, fw.Merged, filepath.Join("merged", fw.Name+".fwinfo"))
	fw.Compiled = resolve(dir, fw.Compiled, filepath.Join("compiled", fw.Package))
}

func resolve(dir, path, def string) string {
	if path == "" {
		path = def
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// ValidArchs lists the architectures a scan can target.
var ValidArchs = []string{"x86_64", "arm64", "arm64e", "i386", "ppc", "ppc64", "armv7", "armv7s", "arm64_32"}

// ValidLogLevels lists the accepted logging levels.
var ValidLogLevels = []string{"debug", "info", "warn", "error"}

var ValidLogFormats = []string{"console", "json"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Archs) == 0 {
		return fmt.Errorf("no architectures configured (set archs or OBJC_METADATA_ARCHS)")
	}
	for _, a := range c.Archs {
		if !contains(ValidArchs, a) {
			return fmt.Errorf("invalid architecture: %s (valid: %v)", a, ValidArchs)
		}
	}

	if !contains(ValidLogLevels, c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (valid: %v)", c.Logging.Level, ValidLogLevels)
	}

	if !contains(ValidLogFormats, c.Logging.Format) {
		return fmt.Errorf("invalid log format: %s (valid: %v)", c.Logging.Format, ValidLogFormats)
	}

	if c.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be at least 1, got %d", c.MaxWorkers)
	}

	if c.MinDeployment != "" {
		if _, err := parser.ParseVersion(c.MinDeployment); err != nil {
			return fmt.Errorf("invalid min_deployment: %w", err)
		}
	}

	for _, section := range c.Sections() {
		fw := c.Frameworks[section]
		if fw.Name == "" {
			return fmt.Errorf("framework section %q has no name", section)
		}
		if _, err := fw.Flags(); err != nil {
			return fmt.Errorf("framework section %q: %w", section, err)
		}
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Sections returns the framework section names in sorted order.
func (c *Config) Sections() []string {
	names := make([]string, 0, len(c.Frameworks))
	for name := range c.Frameworks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Framework returns the named section.
func (c *Config) Framework(section string) (*Framework, error) {
	fw, ok := c.Frameworks[section]
	if !ok {
		return nil, fmt.Errorf("no framework section %q (have %v)", section, c.Sections())
	}
	return fw, nil
}

var sdkVersionRE = regexp.MustCompile(`(\d+(?:\.\d+)*)\.sdk$`)

// GetSDKVersion returns the configured SDK version, falling back to the
// version in the SDK directory name ("MacOSX14.2.sdk").
func (c *Config) GetSDKVersion() string {
	if c.SDKVersion != "" {
		return c.SDKVersion
	}
	if m := sdkVersionRE.FindStringSubmatch(filepath.Base(c.SDKRoot)); m != nil {
		return m[1]
	}
	return "unknown"
}

// GetMinDeployment returns the minimum deployment target, or nil when none
// is configured.
func (c *Config) GetMinDeployment() (*parser.Version, error) {
	if c.MinDeployment == "" {
		return nil, nil
	}
	v, err := parser.ParseVersion(c.MinDeployment)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Flags holds the include paths and macro definitions from a cflags string.
type Flags struct {
	IncludePaths       []string
	SystemIncludePaths []string
	FrameworkPaths     []string
	Defines            map[string]string
	Ignored            []string
}

// Flags splits the shell quoted cflags of the section. Flags other than
// -I, -isystem, -F and -D are returned in Ignored.
func (fw *Framework) Flags() (Flags, error) {
	flags := Flags{Defines: make(map[string]string)}
	if strings.TrimSpace(fw.CFlags) == "" {
		return flags, nil
	}

	args, ok := shell.Split(fw.CFlags)
	if !ok {
		return flags, fmt.Errorf("unbalanced quotes in cflags %q", fw.CFlags)
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		// value returns the argument of a flag that is either attached
		// ("-Ipath") or separate ("-I path").
		value := func(prefix string) (string, error) {
			if v := strings.TrimPrefix(arg, prefix); v != "" {
				return v, nil
			}
			if i+1 >= len(args) {
				return "", fmt.Errorf("missing argument for %s", prefix)
			}
			i++
			return args[i], nil
		}

		var err error
		var v string
		switch {
		case strings.HasPrefix(arg, "-isystem"):
			v, err = value("-isystem")
			flags.SystemIncludePaths = append(flags.SystemIncludePaths, v)
		case strings.HasPrefix(arg, "-I"):
			v, err = value("-I")
			flags.IncludePaths = append(flags.IncludePaths, v)
		case strings.HasPrefix(arg, "-F"):
			v, err = value("-F")
			flags.FrameworkPaths = append(flags.FrameworkPaths, v)
		case strings.HasPrefix(arg, "-D"):
			v, err = value("-D")
			name, val, found := strings.Cut(v, "=")
			if !found {
				val = "1"
			}
			flags.Defines[name] = val
		default:
			flags.Ignored = append(flags.Ignored, arg)
		}
		if err != nil {
			return flags, err
		}
	}

	return flags, nil
}

// Headers returns the headers a scan parses, in order.
func (fw *Framework) Headers() []string {
	var headers []string
	headers = append(headers, fw.PreHeaders...)
	headers = append(headers, fw.StartHeader)
	headers = append(headers, fw.PostHeaders...)
	return headers
}

// RawScans returns the raw scan files of the section, sorted by name.
func (fw *Framework) RawScans() ([]string, error) {
	names, err := doublestar.Glob(os.DirFS(fw.Raw), "*.fwinfo", doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to list raw scans: %w", err)
	}
	sort.Strings(names)

	paths := make([]string, 0, len(names))
	for _, name := range names {
		paths = append(paths, filepath.Join(fw.Raw, name))
	}
	return paths, nil
}

// RawPath returns the file a scan for arch against sdk is written to.
func (fw *Framework) RawPath(arch, sdk string) string {
	return filepath.Join(fw.Raw, fmt.Sprintf("%s-%s.fwinfo", arch, sdk))
}

// ParserOptions builds the parser options for scanning fw on arch. The SDK
// include and framework directories follow the paths from cflags.
func (c *Config) ParserOptions(fw *Framework, arch string) (parser.Options, error) {
	flags, err := fw.Flags()
	if err != nil {
		return parser.Options{}, err
	}
	minDeploy, err := c.GetMinDeployment()
	if err != nil {
		return parser.Options{}, err
	}

	opts := parser.Options{
		IncludePaths:       flags.IncludePaths,
		SystemIncludePaths: flags.SystemIncludePaths,
		FrameworkPaths:     flags.FrameworkPaths,
		Defines:            flags.Defines,
		Arch:               arch,
		MinDeployment:      minDeploy,
		Framework:          fw.Name,
		StrictIncludes:     fw.StrictIncludes,
	}
	if c.SDKRoot != "" {
		opts.SystemIncludePaths = append(opts.SystemIncludePaths, filepath.Join(c.SDKRoot, "usr", "include"))
		opts.FrameworkPaths = append(opts.FrameworkPaths, filepath.Join(c.SDKRoot, "System", "Library", "Frameworks"))
	}
	return opts, nil
}

// HeaderDirs returns the existing directories holding the headers of fw:
// <dir>/<Name>.framework/Headers for every search path, or the search path
// itself when it already points into the framework.
func (c *Config) HeaderDirs(fw *Framework) ([]string, error) {
	opts, err := c.ParserOptions(fw, "")
	if err != nil {
		return nil, err
	}

	bundle := fw.Name + ".framework"
	var search []string
	search = append(search, opts.IncludePaths...)
	search = append(search, opts.SystemIncludePaths...)
	search = append(search, opts.FrameworkPaths...)

	seen := make(map[string]bool)
	var dirs []string
	for _, base := range search {
		candidates := []string{filepath.Join(base, bundle, "Headers"), filepath.Join(base, bundle)}
		if filepath.Base(base) == bundle || strings.Contains(filepath.ToSlash(base), "/"+bundle+"/") {
			candidates = []string{base}
		}

		for _, dir := range candidates {
			info, err := os.Stat(dir)
			if err != nil || !info.IsDir() || seen[dir] {
				continue
			}
			seen[dir] = true
			dirs = append(dirs, dir)
			break
		}
	}
	return dirs, nil
}
