package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type Version struct {
	Major          int
	Minor          int
	Patch          int
	ToBeDeprecated bool
}

func (v Version) String() string {
	if v.ToBeDeprecated {
		return "API_TO_BE_DEPRECATED"
	}
	if v.Patch != 0 {
		return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	}
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// ParseVersion parses "10.13", "10.13.4" and the "10_5" spelling used by
// the older availability macros.
func ParseVersion(s string) (Version, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", ".")
	parts := strings.Split(s, ".")
	if len(parts) == 0 || len(parts) > 3 || parts[0] == "" {
		return Version{}, errors.Errorf("invalid version %q", s)
	}

	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Version{}, errors.Errorf("invalid version %q", s)
		}
		nums[i] = n
	}

	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

type PlatformAvailability struct {
	Platform    string
	Introduced  *Version
	Deprecated  *Version
	Obsoleted   *Version
	Unavailable bool
	Message     string
	Replacement string
}

// Availability collects every availability annotation attached to a
// declaration. Deprecated and Unavailable record annotations without a
// platform, such as DEPRECATED_ATTRIBUTE.
type Availability struct {
	Platforms   []PlatformAvailability
	Deprecated  bool
	Unavailable bool
	Message     string
}

func (a Availability) IsZero() bool {
	return len(a.Platforms) == 0 && !a.Deprecated && !a.Unavailable && a.Message == ""
}

func (a Availability) Platform(name string) (PlatformAvailability, bool) {
	for _, p := range a.Platforms {
		if p.Platform == name {
			return p, true
		}
	}
	return PlatformAvailability{}, false
}

func (a *Availability) platform(name string) *PlatformAvailability {
	name = normalizePlatform(name)
	for i := range a.Platforms {
		if a.Platforms[i].Platform == name {
			return &a.Platforms[i]
		}
	}
	a.Platforms = append(a.Platforms, PlatformAvailability{Platform: name})
	return &a.Platforms[len(a.Platforms)-1]
}

// inherit copies the parts of parent that a does not specify itself.
func (a *Availability) inherit(parent Availability) {
	for _, pp := range parent.Platforms {
		if _, ok := a.Platform(pp.Platform); !ok {
			a.Platforms = append(a.Platforms, pp)
		}
	}
	if !a.Deprecated && parent.Deprecated {
		a.Deprecated = true
		if a.Message == "" {
			a.Message = parent.Message
		}
	}
	if parent.Unavailable {
		a.Unavailable = true
	}
}

func normalizePlatform(name string) string {
	switch strings.ToLower(strings.Trim(name, "_")) {
	case "macos", "macosx", "osx", "mac", "macos_app_extension", "macosx_app_extension":
		return "macos"
	case "ios", "iphone", "iphoneos", "ios_app_extension":
		return "ios"
	case "maccatalyst", "maccatalyst_app_extension", "uikitformac":
		return "maccatalyst"
	case "tvos", "tvos_app_extension":
		return "tvos"
	case "watchos", "watchos_app_extension":
		return "watchos"
	case "visionos", "xros":
		return "visionos"
	}
	return strings.ToLower(name)
}

// attrs accumulates the annotations that follow a declarator or precede
// a declaration.
type attrs struct {
	avail        Availability
	printfFormat int
	retained     bool
	cfRetained   bool
	stringEnum   bool
	extensible   bool
	flagEnum     bool
	closedEnum   bool
	errorDomain  string
}

var (
	legacyAvailRe     = regexp.MustCompile(`^(NS|CF)_(ENUM_)?(AVAILABLE|DEPRECATED)(_MAC|_IOS)?$`)
	osxAvailRe        = regexp.MustCompile(`^__(OSX|IOS|TVOS|WATCHOS|MAC)_(AVAILABLE|DEPRECATED|UNAVAILABLE|PROHIBITED|AVAILABLE_STARTING|AVAILABLE_BUT_DEPRECATED|AVAILABLE_BUT_DEPRECATED_MSG)$`)
	macAvailRe        = regexp.MustCompile(`^AVAILABLE_MAC_OS_X_VERSION_(\d+)_(\d+)_AND_LATER(_BUT_DEPRECATED(?:_IN_MAC_OS_X_VERSION_(\d+)_(\d+))?)?$`)
	macDeprecatedRe   = regexp.MustCompile(`^DEPRECATED_IN_MAC_OS_X_VERSION_(\d+)_(\d+)_AND_LATER$`)
	versionConstantRe = regexp.MustCompile(`^(?:__MAC_|__IPHONE_|__TVOS_|__WATCHOS_|MAC_OS_X_VERSION_)(\d+)_(\d+)(?:_(\d+))?$`)
	allCapsRe         = regexp.MustCompile(`^_*[A-Z][A-Z0-9_]*$`)
)

var stringEnumMarkers = map[string]bool{
	"NS_STRING_ENUM":            true,
	"NS_TYPED_ENUM":             true,
	"NS_EXTENSIBLE_STRING_ENUM": true,
	"NS_TYPED_EXTENSIBLE_ENUM":  true,
	"CF_STRING_ENUM":            true,
	"CF_TYPED_ENUM":             true,
	"CF_EXTENSIBLE_STRING_ENUM": true,
	"CF_TYPED_EXTENSIBLE_ENUM":  true,
	"_NS_TYPED_ENUM":            true,
	"_NS_TYPED_EXTENSIBLE_ENUM": true,
	"_CF_TYPED_ENUM":            true,
	"_CF_TYPED_EXTENSIBLE_ENUM": true,
}

var deprecatedMarkers = map[string]bool{
	"DEPRECATED_ATTRIBUTE":      true,
	"__deprecated":              true,
	"DEPRECATED_MSG_ATTRIBUTE":  true,
	"__deprecated_msg":          true,
	"__deprecated_enum_msg":     true,
	"NS_DEPRECATED_WITH_REASON": true,
}

var unavailableMarkers = map[string]bool{
	"UNAVAILABLE_ATTRIBUTE":             true,
	"NS_UNAVAILABLE":                    true,
	"__unavailable":                     true,
	"NS_AUTOMATED_REFCOUNT_UNAVAILABLE": true,
}

var formatMarkers = map[string]bool{
	"NS_FORMAT_FUNCTION": true,
	"CF_FORMAT_FUNCTION": true,
	"__printflike":       true,
	"__printf0like":      true,
}

var retainedMarkers = map[string]string{
	"NS_RETURNS_RETAINED":      "ns",
	"CF_RETURNS_RETAINED":      "cf",
	"NS_RETURNS_NOT_RETAINED":  "",
	"CF_RETURNS_NOT_RETAINED":  "",
	"NS_RETURNS_INNER_POINTER": "",
}

// ignoredMarkers carry no information for the scanner but may appear in
// positions where an unknown identifier would otherwise be a type name.
var ignoredMarkers = map[string]bool{
	"NS_SWIFT_NAME":                true,
	"CF_SWIFT_NAME":                true,
	"NS_SWIFT_UNAVAILABLE":         true,
	"CF_SWIFT_UNAVAILABLE":         true,
	"NS_REFINED_FOR_SWIFT":         true,
	"CF_REFINED_FOR_SWIFT":         true,
	"NS_SWIFT_SENDABLE":            true,
	"NS_SWIFT_NONSENDABLE":         true,
	"NS_SWIFT_UI_ACTOR":            true,
	"NS_SWIFT_NONISOLATED":         true,
	"NS_SWIFT_ASYNC":               true,
	"NS_SWIFT_ASYNC_NAME":          true,
	"NS_SWIFT_DISABLE_ASYNC":       true,
	"NS_NOESCAPE":                  true,
	"CF_NOESCAPE":                  true,
	"NS_REQUIRES_NIL_TERMINATION":  true,
	"NS_REQUIRES_SUPER":            true,
	"NS_DESIGNATED_INITIALIZER":    true,
	"NS_WARN_UNUSED_RESULT":        true,
	"CF_WARN_UNUSED_RESULT":        true,
	"CF_BRIDGED_TYPE":              true,
	"CF_BRIDGED_MUTABLE_TYPE":      true,
	"CF_RELATED_TYPE":              true,
	"NS_FORMAT_ARGUMENT":           true,
	"CF_FORMAT_ARGUMENT":           true,
	"NS_SWIFT_BRIDGED_TYPEDEF":     true,
	"CF_SWIFT_BRIDGED_TYPEDEF":     true,
	"NS_OBJECT_OVERLOADABLE":       true,
	"CF_IMPLICIT_BRIDGING_ENABLED": true,
	"__asm":                        true,
	"__asm__":                      true,
	"asm":                          true,
	"__unused":                     true,
	"__used":                       true,
	"__dead2":                      true,
	"__pure2":                      true,
	"__kindof":                     true,
	"__unsafe_unretained":          true,
	"__strong":                     true,
	"__weak":                       true,
	"__autoreleasing":              true,
	"__block":                      true,
	"__covariant":                  true,
	"__contravariant":              true,
}

var nullabilityKeywords = map[string]Nullability{
	"_Nullable":          Nullable,
	"__nullable":         Nullable,
	"nullable":           Nullable,
	"_Nullable_result":   Nullable,
	"_Nonnull":           Nonnull,
	"__nonnull":          Nonnull,
	"nonnull":            Nonnull,
	"_Null_unspecified":  NullUnspecified,
	"__null_unspecified": NullUnspecified,
	"null_unspecified":   NullUnspecified,
}

// isAnnotation reports whether name is interpreted by the declaration
// parser rather than expanded as a macro.
func isAnnotation(name string) bool {
	switch name {
	case "__attribute__", "__attribute",
		"API_AVAILABLE", "__API_AVAILABLE", "API_DEPRECATED", "__API_DEPRECATED_MSG",
		"API_DEPRECATED_WITH_REPLACEMENT", "__API_DEPRECATED_REP", "API_UNAVAILABLE", "__API_UNAVAILABLE",
		"API_TO_BE_DEPRECATED", "NS_UNAVAILABLE":
		return true
	}
	if stringEnumMarkers[name] {
		return true
	}
	if deprecatedMarkers[name] || unavailableMarkers[name] || formatMarkers[name] || ignoredMarkers[name] {
		return true
	}
	if _, ok := retainedMarkers[name]; ok {
		return true
	}
	if _, ok := nullabilityKeywords[name]; ok {
		return true
	}
	return legacyAvailRe.MatchString(name) || osxAvailRe.MatchString(name) ||
		macAvailRe.MatchString(name) || macDeprecatedRe.MatchString(name)
}

// annotation consumes one annotation at the current position and records
// it in a. It reports false when the current token does not start one.
func (p *declParser) annotation(a *attrs) (bool, error) {
	t := p.peek()
	if t.Kind != TokenIdent {
		return false, nil
	}
	name := t.Text

	switch name {
	case "__attribute__", "__attribute":
		p.next()
		return true, p.gnuAttributes(a)

	case "API_AVAILABLE", "__API_AVAILABLE":
		return true, p.apiCall("API_AVAILABLE", a)
	case "API_DEPRECATED", "__API_DEPRECATED_MSG":
		return true, p.apiCall("API_DEPRECATED", a)
	case "API_DEPRECATED_WITH_REPLACEMENT", "__API_DEPRECATED_REP":
		return true, p.apiCall("API_DEPRECATED_WITH_REPLACEMENT", a)
	case "API_UNAVAILABLE", "__API_UNAVAILABLE":
		return true, p.apiCall("API_UNAVAILABLE", a)
	}

	switch {
	case deprecatedMarkers[name]:
		p.next()
		args, err := p.macroArgs()
		if err != nil {
			return true, err
		}
		a.avail.Deprecated = true
		if len(args) > 0 {
			a.avail.Message = stringValue(args[0])
		}
		return true, nil

	case unavailableMarkers[name]:
		p.next()
		if _, err := p.macroArgs(); err != nil {
			return true, err
		}
		a.avail.Unavailable = true
		return true, nil

	case formatMarkers[name]:
		p.next()
		args, err := p.macroArgs()
		if err != nil {
			return true, err
		}
		if len(args) > 0 {
			if n, err := evalTokens(args[0], nil); err == nil {
				a.printfFormat = int(n.int())
			}
		}
		return true, nil

	case ignoredMarkers[name]:
		p.next()
		_, err := p.macroArgs()
		return true, err
	}

	if kind, ok := retainedMarkers[name]; ok {
		p.next()
		switch kind {
		case "ns":
			a.retained = true
		case "cf":
			a.cfRetained = true
		}
		return true, nil
	}

	if stringEnumMarkers[name] {
		p.next()
		if _, err := p.macroArgs(); err != nil {
			return true, err
		}
		a.stringEnum = true
		a.extensible = strings.Contains(name, "EXTENSIBLE")
		return true, nil
	}

	if m := legacyAvailRe.FindStringSubmatch(name); m != nil {
		p.next()
		args, err := p.macroArgs()
		if err != nil {
			return true, err
		}
		return true, p.legacyAvailability(m[3] == "DEPRECATED", m[4], args, &a.avail)
	}

	if m := osxAvailRe.FindStringSubmatch(name); m != nil {
		p.next()
		args, err := p.macroArgs()
		if err != nil {
			return true, err
		}
		return true, p.osxAvailability(m[1], m[2], args, &a.avail)
	}

	if m := macAvailRe.FindStringSubmatch(name); m != nil {
		p.next()
		pa := a.avail.platform("macos")
		pa.Introduced = versionFromParts(m[1], m[2], "")
		if m[3] != "" {
			if m[4] != "" {
				pa.Deprecated = versionFromParts(m[4], m[5], "")
			} else {
				a.avail.Deprecated = true
			}
		}
		return true, nil
	}

	if m := macDeprecatedRe.FindStringSubmatch(name); m != nil {
		p.next()
		a.avail.platform("macos").Deprecated = versionFromParts(m[1], m[2], "")
		return true, nil
	}

	return false, nil
}

func (p *declParser) apiCall(kind string, a *attrs) error {
	t := p.next()
	args, err := p.macroArgs()
	if err != nil {
		return err
	}
	return p.apiAvailability(kind, t.Pos, args, &a.avail)
}

// apiAvailability interprets the arguments of API_AVAILABLE, API_DEPRECATED,
// API_DEPRECATED_WITH_REPLACEMENT and API_UNAVAILABLE.
func (p *declParser) apiAvailability(kind string, pos Position, args [][]Token, av *Availability) error {
	switch kind {
	case "API_AVAILABLE":
		for _, arg := range args {
			if err := p.platformVersions(arg, av, false); err != nil {
				return err
			}
		}

	case "API_DEPRECATED", "API_DEPRECATED_WITH_REPLACEMENT":
		if len(args) == 0 {
			return p.errorf(pos, "%s needs arguments", kind)
		}
		text := stringValue(args[0])
		for _, arg := range args[1:] {
			if err := p.platformVersions(arg, av, true); err != nil {
				return err
			}
		}
		for i := range av.Platforms {
			pa := &av.Platforms[i]
			if pa.Deprecated == nil {
				continue
			}
			if kind == "API_DEPRECATED_WITH_REPLACEMENT" {
				pa.Replacement = text
			} else {
				pa.Message = text
			}
		}

	case "API_UNAVAILABLE":
		for _, arg := range args {
			if len(arg) > 0 && arg[0].Kind == TokenIdent {
				av.platform(arg[0].Text).Unavailable = true
			}
		}
	}
	return nil
}

// platformVersions handles one "macos(10.5, 10.9)" argument of the API_
// availability macros.
func (p *declParser) platformVersions(arg []Token, av *Availability, deprecated bool) error {
	if len(arg) == 0 {
		return nil
	}
	if arg[0].Kind != TokenIdent {
		return p.errorf(arg[0].Pos, "expected platform name, got %q", arg[0].Text)
	}

	pa := av.platform(arg[0].Text)
	if len(arg) == 1 {
		return nil
	}
	if !arg[1].Is("(") || !arg[len(arg)-1].Is(")") {
		return p.errorf(arg[1].Pos, "malformed availability for %s", arg[0].Text)
	}

	versions := splitArgs(arg[2 : len(arg)-1])
	if len(versions) > 0 {
		v, err := p.versionArg(versions[0])
		if err != nil {
			return err
		}
		pa.Introduced = v
	}
	if deprecated && len(versions) > 1 {
		v, err := p.versionArg(versions[1])
		if err != nil {
			return err
		}
		pa.Deprecated = v
	}
	return nil
}

func (p *declParser) legacyAvailability(deprecated bool, suffix string, args [][]Token, av *Availability) error {
	var platforms []string
	switch suffix {
	case "_MAC":
		platforms = []string{"macos"}
	case "_IOS":
		platforms = []string{"ios"}
	default:
		platforms = []string{"macos", "ios"}
	}

	per := 1
	if deprecated {
		per = 2
	}

	for i, platform := range platforms {
		base := i * per
		if base >= len(args) {
			break
		}
		intro, err := p.versionArg(args[base])
		if err != nil {
			return err
		}
		pa := av.platform(platform)
		if intro == nil && isNA(args[base]) {
			pa.Unavailable = true
			continue
		}
		pa.Introduced = intro
		if deprecated && base+1 < len(args) {
			dep, err := p.versionArg(args[base+1])
			if err != nil {
				return err
			}
			pa.Deprecated = dep
		}
	}

	if deprecated && len(args) > len(platforms)*per {
		msg := stringValue(args[len(platforms)*per])
		for i := range av.Platforms {
			if av.Platforms[i].Deprecated != nil {
				av.Platforms[i].Message = msg
			}
		}
	}
	return nil
}

func (p *declParser) osxAvailability(family, kind string, args [][]Token, av *Availability) error {
	platform := "macos"
	switch family {
	case "IOS":
		platform = "ios"
	case "TVOS":
		platform = "tvos"
	case "WATCHOS":
		platform = "watchos"
	}

	version := func(i int) (*Version, error) {
		if i >= len(args) {
			return nil, nil
		}
		return p.versionArg(args[i])
	}

	switch kind {
	case "UNAVAILABLE", "PROHIBITED":
		av.platform(platform).Unavailable = true

	case "AVAILABLE", "AVAILABLE_STARTING":
		v, err := version(0)
		if err != nil {
			return err
		}
		av.platform(platform).Introduced = v

	case "DEPRECATED":
		intro, err := version(0)
		if err != nil {
			return err
		}
		dep, err := version(1)
		if err != nil {
			return err
		}
		pa := av.platform(platform)
		pa.Introduced, pa.Deprecated = intro, dep
		if len(args) > 2 {
			pa.Message = stringValue(args[2])
		}

	case "AVAILABLE_BUT_DEPRECATED", "AVAILABLE_BUT_DEPRECATED_MSG":
		intro, err := version(0)
		if err != nil {
			return err
		}
		dep, err := version(1)
		if err != nil {
			return err
		}
		pa := av.platform("macos")
		pa.Introduced, pa.Deprecated = intro, dep
		if kind == "AVAILABLE_BUT_DEPRECATED_MSG" && len(args) > 4 {
			pa.Message = stringValue(args[4])
		}
	}
	return nil
}

// gnuAttributes parses the "((...))" following __attribute__.
func (p *declParser) gnuAttributes(a *attrs) error {
	args, err := p.macroArgs()
	if err != nil {
		return err
	}
	if len(args) != 1 || len(args[0]) < 2 || !args[0][0].Is("(") {
		return p.errorf(p.peek().Pos, "malformed __attribute__")
	}
	inner := args[0][1 : len(args[0])-1]

	for _, attr := range splitArgs(inner) {
		if len(attr) == 0 || attr[0].Kind != TokenIdent {
			continue
		}
		name := strings.Trim(attr[0].Text, "_")

		var params [][]Token
		if len(attr) > 2 && attr[1].Is("(") {
			params = splitArgs(attr[2 : len(attr)-1])
		}

		switch name {
		case "availability":
			if err := p.availabilityAttribute(params, &a.avail); err != nil {
				return err
			}
		case "deprecated":
			a.avail.Deprecated = true
			if len(params) > 0 {
				a.avail.Message = stringValue(params[0])
			}
		case "unavailable":
			a.avail.Unavailable = true
		case "format":
			if len(params) >= 2 {
				if n, err := evalTokens(params[1], nil); err == nil {
					a.printfFormat = int(n.int())
				}
			}
		case "ns_returns_retained":
			a.retained = true
		case "cf_returns_retained":
			a.cfRetained = true
		case "flag_enum":
			a.flagEnum = true
		case "enum_extensibility":
			if len(params) > 0 && len(params[0]) > 0 {
				a.closedEnum = params[0][0].Text == "closed"
			}
		case "ns_error_domain":
			if len(params) > 0 && len(params[0]) > 0 {
				a.errorDomain = params[0][0].Text
			}
		}
	}
	return nil
}

// availabilityAttribute parses clang's
// availability(macos, introduced=10.5, deprecated=10.9, message="...").
func (p *declParser) availabilityAttribute(params [][]Token, av *Availability) error {
	if len(params) == 0 || len(params[0]) == 0 {
		return nil
	}
	pa := av.platform(params[0][0].Text)

	for _, param := range params[1:] {
		if len(param) == 0 {
			continue
		}
		key := param[0].Text
		if key == "unavailable" {
			pa.Unavailable = true
			continue
		}
		if len(param) < 3 || !param[1].Is("=") {
			continue
		}
		value := param[2:]

		switch key {
		case "introduced", "deprecated", "obsoleted":
			v, err := p.versionArg(value)
			if err != nil {
				return err
			}
			switch key {
			case "introduced":
				pa.Introduced = v
			case "deprecated":
				pa.Deprecated = v
			case "obsoleted":
				pa.Obsoleted = v
			}
		case "message":
			pa.Message = stringValue(value)
		case "replacement":
			pa.Replacement = stringValue(value)
		}
	}
	return nil
}

// versionArg converts a version argument. A nil version without error
// means "not available" (NA).
func (p *declParser) versionArg(arg []Token) (*Version, error) {
	if len(arg) != 1 {
		return nil, p.errorf(p.peek().Pos, "expected version, got %q", joinTokens(arg))
	}
	t := arg[0]

	switch t.Kind {
	case TokenNumber:
		v, err := ParseVersion(t.Text)
		if err != nil {
			return nil, p.errorf(t.Pos, "%v", err)
		}
		return &v, nil

	case TokenIdent:
		if strings.Contains(t.Text, "TO_BE_DEPRECATED") {
			return &Version{ToBeDeprecated: true}, nil
		}
		if isNA(arg) {
			return nil, nil
		}
		if m := versionConstantRe.FindStringSubmatch(t.Text); m != nil {
			return versionFromParts(m[1], m[2], m[3]), nil
		}
	}

	return nil, p.errorf(t.Pos, "expected version, got %q", t.Text)
}

func isNA(arg []Token) bool {
	if len(arg) != 1 {
		return false
	}
	switch arg[0].Text {
	case "NA", "__MAC_NA", "__IPHONE_NA", "__TVOS_NA", "__WATCHOS_NA":
		return true
	}
	return false
}

func versionFromParts(major, minor, patch string) *Version {
	v := Version{}
	v.Major, _ = strconv.Atoi(major)
	v.Minor, _ = strconv.Atoi(minor)
	if patch != "" {
		v.Patch, _ = strconv.Atoi(patch)
	}
	return &v
}

// stringValue concatenates adjacent string literal tokens.
func stringValue(toks []Token) string {
	var b strings.Builder
	for _, t := range toks {
		if t.Kind != TokenString {
			continue
		}
		b.WriteString(unquote(t.Text))
	}
	return b.String()
}

func unquote(text string) string {
	text = strings.TrimPrefix(text, "@")
	text = strings.TrimLeft(text, "LuU8")
	if s, err := strconv.Unquote(text); err == nil {
		return s
	}
	return strings.Trim(text, `"`)
}

// splitArgs splits toks on commas that are not nested in brackets.
func splitArgs(toks []Token) [][]Token {
	if len(toks) == 0 {
		return nil
	}

	var args [][]Token
	depth, start := 0, 0
	for i, t := range toks {
		switch {
		case t.Is("(") || t.Is("[") || t.Is("{"):
			depth++
		case t.Is(")") || t.Is("]") || t.Is("}"):
			depth--
		case t.Is(",") && depth == 0:
			args = append(args, toks[start:i])
			start = i + 1
		}
	}
	return append(args, toks[start:])
}
