// Package metadata holds the framework metadata model and its storage
// format, the "fwinfo" JSON files written by a scan.
package metadata

type EnumTypeInfo struct {
	Typestr      string            `json:"typestr"`
	Availability *AvailabilityInfo `json:"availability"`
	Flags        bool              `json:"flags"`
	Ignore       bool              `json:"ignore"`
}

// EnumInfo describes one enum label. EnumType is empty for labels of an
// anonymous enum.
type EnumInfo struct {
	Value        PerArch[int64]    `json:"value"`
	EnumType     string            `json:"enum_type"`
	Availability *AvailabilityInfo `json:"availability"`
	Ignore       bool              `json:"ignore"`
}

type StructInfo struct {
	Typestr string `json:"typestr"`

	// TypestrSpecial marks encodings that differ from what the runtime
	// reports, such as anonymous structs named after their typedef.
	TypestrSpecial bool              `json:"typestr_special"`
	FieldNames     []string          `json:"fieldnames"`
	Availability   *AvailabilityInfo `json:"availability"`
	Ignore         bool              `json:"ignore"`
}

// ExternInfo describes a global variable, usually a constant.
type ExternInfo struct {
	Typestr      PerArch[string]   `json:"typestr"`
	TypeName     *string           `json:"type_name"`
	MagicCookie  bool              `json:"magic_cookie"`
	Availability *AvailabilityInfo `json:"availability"`
	Ignore       bool              `json:"ignore"`
}

type CFTypeInfo struct {
	Typestr       string  `json:"typestr"`
	GetTypeIDFunc *string `json:"gettypeid_func"`
	TollFree      *string `json:"tollfree"`
	Opaque        *bool   `json:"opaque"`
}

// LiteralInfo is a named value that is not an enum label: a #define or a
// static constant. Unicode is false for C strings.
type LiteralInfo struct {
	Value        PerArch[Literal]  `json:"value"`
	Unicode      bool              `json:"unicode"`
	Availability *AvailabilityInfo `json:"availability"`
	Ignore       bool              `json:"ignore"`
}

type AliasInfo struct {
	Alias        string            `json:"alias"`
	EnumType     *string           `json:"enum_type"`
	Availability *AvailabilityInfo `json:"availability"`
	Ignore       bool              `json:"ignore"`
}

type ExpressionInfo struct {
	Expression   string            `json:"expression"`
	Availability *AvailabilityInfo `json:"availability"`
	Ignore       bool              `json:"ignore"`
}

// FunctionMacroInfo is a function-like #define rendered as a one line
// function definition.
type FunctionMacroInfo struct {
	Definition   string            `json:"definition"`
	Availability *AvailabilityInfo `json:"availability"`
	Ignore       bool              `json:"ignore"`
}

type CallbackArgInfo struct {
	Typestr           string  `json:"typestr"`
	TypestrSpecial    bool    `json:"typestr_special"`
	TypeName          *string `json:"type_name"`
	NullAccepted      *bool   `json:"null_accepted"`
	AlreadyRetained   bool    `json:"already_retained"`
	AlreadyCFRetained bool    `json:"already_cfretained"`
}

// CallbackInfo is the signature of a function pointer or block argument.
type CallbackInfo struct {
	Retval         CallbackArgInfo   `json:"retval"`
	Args           []CallbackArgInfo `json:"arguments"`
	Variadic       bool              `json:"variadic"`
	PrintfFormat   *int              `json:"printf_format"`
	NullTerminated bool              `json:"null_terminated"`
}

type ArgInfo struct {
	Typestr                string        `json:"typestr"`
	Name                   *string       `json:"name"`
	TypestrSpecial         bool          `json:"typestr_special"`
	TypeName               *string       `json:"type_name"`
	TypeModifier           *string       `json:"type_modifier"`
	NullAccepted           *bool         `json:"null_accepted"`
	PrintfFormat           bool          `json:"printf_format"`
	AlreadyRetained        bool          `json:"already_retained"`
	AlreadyCFRetained      bool          `json:"already_cfretained"`
	Callable               *CallbackInfo `json:"callable"`
	CallableRetained       *bool         `json:"callable_retained"`
	CArrayLengthInArg      *int          `json:"c_array_length_in_arg"`
	CArrayLengthInResult   bool          `json:"c_array_length_in_result"`
	CArrayOfVariableLength bool          `json:"c_array_of_variable_length"`
	CArrayDelimitedByNull  bool          `json:"c_array_delimited_by_null"`
}

type ReturnInfo struct {
	Typestr                string        `json:"typestr"`
	TypestrSpecial         bool          `json:"typestr_special"`
	TypeName               *string       `json:"type_name"`
	NullAccepted           *bool         `json:"null_accepted"`
	AlreadyRetained        bool          `json:"already_retained"`
	AlreadyCFRetained      bool          `json:"already_cfretained"`
	Callable               *CallbackInfo `json:"callable"`
	CArrayOfVariableLength bool          `json:"c_array_of_variable_length"`
	CArrayDelimitedByNull  bool          `json:"c_array_delimited_by_null"`
}

// FunctionInfo describes a C function. A K&R declaration without a
// prototype is variadic with no arguments.
type FunctionInfo struct {
	Retval       ReturnInfo        `json:"retval"`
	Args         []ArgInfo         `json:"args"`
	Inline       bool              `json:"inline"`
	Variadic     bool              `json:"variadic"`
	PrintfFormat *int              `json:"printf_format"`
	Availability *AvailabilityInfo `json:"availability"`
	Ignore       bool              `json:"ignore"`
}

func (f FunctionInfo) IsKandR() bool {
	return f.Variadic && len(f.Args) == 0
}

// ProtocolInfo and ClassInfo record Objective-C names only.
type ProtocolInfo struct {
	Availability *AvailabilityInfo `json:"availability"`
}

type ClassInfo struct {
	Availability *AvailabilityInfo `json:"availability"`
}

// FrameworkMetadata is everything a scan found in one framework, for one
// architecture or merged over several.
type FrameworkMetadata struct {
	Architectures     ArchSet                      `json:"architectures"`
	SDKVersion        *string                      `json:"sdk_version"`
	EnumType          map[string]EnumTypeInfo      `json:"enum_type"`
	Enum              map[string]EnumInfo          `json:"enum"`
	Structs           map[string]StructInfo        `json:"structs"`
	Externs           map[string]ExternInfo        `json:"externs"`
	CFTypes           map[string]CFTypeInfo        `json:"cftypes"`
	Literals          map[string]LiteralInfo       `json:"literals"`
	FormalProtocols   map[string]ProtocolInfo      `json:"formal_protocols"`
	InformalProtocols map[string]ProtocolInfo      `json:"informal_protocols"`
	Classes           map[string]ClassInfo         `json:"classes"`
	Aliases           map[string]AliasInfo         `json:"aliases"`
	Expressions       map[string]ExpressionInfo    `json:"expressions"`
	FuncMacros        map[string]FunctionMacroInfo `json:"func_macros"`
	Functions         map[string]FunctionInfo      `json:"functions"`
}

func NewFrameworkMetadata(archs ...string) *FrameworkMetadata {
	return &FrameworkMetadata{
		Architectures:     NewArchSet(archs...),
		EnumType:          make(map[string]EnumTypeInfo),
		Enum:              make(map[string]EnumInfo),
		Structs:           make(map[string]StructInfo),
		Externs:           make(map[string]ExternInfo),
		CFTypes:           make(map[string]CFTypeInfo),
		Literals:          make(map[string]LiteralInfo),
		FormalProtocols:   make(map[string]ProtocolInfo),
		InformalProtocols: make(map[string]ProtocolInfo),
		Classes:           make(map[string]ClassInfo),
		Aliases:           make(map[string]AliasInfo),
		Expressions:       make(map[string]ExpressionInfo),
		FuncMacros:        make(map[string]FunctionMacroInfo),
		Functions:         make(map[string]FunctionInfo),
	}
}

// Arch returns the single architecture of a per-arch scan, or the first
// in sorted order for merged metadata.
func (md *FrameworkMetadata) Arch() string {
	elts := md.Architectures.Elements()
	if len(elts) == 0 {
		return ""
	}
	return elts[0]
}

// Count returns the number of records over all sections.
func (md *FrameworkMetadata) Count() int {
	return len(md.EnumType) + len(md.Enum) + len(md.Structs) + len(md.Externs) +
		len(md.CFTypes) + len(md.Literals) + len(md.FormalProtocols) +
		len(md.InformalProtocols) + len(md.Classes) + len(md.Aliases) +
		len(md.Expressions) + len(md.FuncMacros) + len(md.Functions)
}
