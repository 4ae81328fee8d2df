package metadata

// ExceptionData holds hand-written corrections to scanned metadata. Every
// field of an exception record is optional; a set field replaces the
// scanned value and Ignore drops the record altogether.
type ExceptionData struct {
	EnumType    map[string]EnumTypeException      `json:"enum_type"`
	Enum        map[string]EnumException          `json:"enum"`
	Externs     map[string]ExternException        `json:"externs"`
	Literals    map[string]LiteralException       `json:"literals"`
	Aliases     map[string]AliasException         `json:"aliases"`
	Expressions map[string]ExpressionException    `json:"expressions"`
	FuncMacros  map[string]FunctionMacroException `json:"func_macros"`
	Functions   map[string]FunctionException      `json:"functions"`
}

func NewExceptionData() *ExceptionData {
	return &ExceptionData{
		EnumType:    make(map[string]EnumTypeException),
		Enum:        make(map[string]EnumException),
		Externs:     make(map[string]ExternException),
		Literals:    make(map[string]LiteralException),
		Aliases:     make(map[string]AliasException),
		Expressions: make(map[string]ExpressionException),
		FuncMacros:  make(map[string]FunctionMacroException),
		Functions:   make(map[string]FunctionException),
	}
}

type EnumTypeException struct {
	Typestr      *string           `json:"typestr,omitempty"`
	Availability *AvailabilityInfo `json:"availability,omitempty"`
	Flags        *bool             `json:"flags,omitempty"`
	Ignore       bool              `json:"ignore,omitempty"`
}

func (x EnumTypeException) Apply(info EnumTypeInfo) EnumTypeInfo {
	setIf(&info.Typestr, x.Typestr)
	setIf(&info.Flags, x.Flags)
	if x.Availability != nil {
		info.Availability = x.Availability
	}
	return info
}

type EnumException struct {
	Value        *int64            `json:"value,omitempty"`
	EnumType     *string           `json:"enum_type,omitempty"`
	Availability *AvailabilityInfo `json:"availability,omitempty"`
	Ignore       bool              `json:"ignore,omitempty"`
}

func (x EnumException) Apply(info EnumInfo) EnumInfo {
	if x.Value != nil {
		info.Value = Scalar(*x.Value)
	}
	setIf(&info.EnumType, x.EnumType)
	if x.Availability != nil {
		info.Availability = x.Availability
	}
	return info
}

type ExternException struct {
	Typestr      *string           `json:"typestr,omitempty"`
	TypeName     *string           `json:"type_name,omitempty"`
	MagicCookie  *bool             `json:"magic_cookie,omitempty"`
	Availability *AvailabilityInfo `json:"availability,omitempty"`
	Ignore       bool              `json:"ignore,omitempty"`
}

func (x ExternException) Apply(info ExternInfo) ExternInfo {
	if x.Typestr != nil {
		info.Typestr = Scalar(*x.Typestr)
	}
	if x.TypeName != nil {
		info.TypeName = x.TypeName
	}
	setIf(&info.MagicCookie, x.MagicCookie)
	if x.Availability != nil {
		info.Availability = x.Availability
	}
	return info
}

type LiteralException struct {
	Value        *Literal          `json:"value,omitempty"`
	Unicode      *bool             `json:"unicode,omitempty"`
	Availability *AvailabilityInfo `json:"availability,omitempty"`
	Ignore       bool              `json:"ignore,omitempty"`
}

func (x LiteralException) Apply(info LiteralInfo) LiteralInfo {
	if x.Value != nil {
		info.Value = Scalar(*x.Value)
	}
	setIf(&info.Unicode, x.Unicode)
	if x.Availability != nil {
		info.Availability = x.Availability
	}
	return info
}

type AliasException struct {
	Alias        *string           `json:"alias,omitempty"`
	EnumType     *string           `json:"enum_type,omitempty"`
	Availability *AvailabilityInfo `json:"availability,omitempty"`
	Ignore       bool              `json:"ignore,omitempty"`
}

func (x AliasException) Apply(info AliasInfo) AliasInfo {
	setIf(&info.Alias, x.Alias)
	if x.EnumType != nil {
		info.EnumType = x.EnumType
	}
	if x.Availability != nil {
		info.Availability = x.Availability
	}
	return info
}

type ExpressionException struct {
	Expression   *string           `json:"expression,omitempty"`
	Availability *AvailabilityInfo `json:"availability,omitempty"`
	Ignore       bool              `json:"ignore,omitempty"`
}

func (x ExpressionException) Apply(info ExpressionInfo) ExpressionInfo {
	setIf(&info.Expression, x.Expression)
	if x.Availability != nil {
		info.Availability = x.Availability
	}
	return info
}

type FunctionMacroException struct {
	Definition   *string           `json:"definition,omitempty"`
	Availability *AvailabilityInfo `json:"availability,omitempty"`
	Ignore       bool              `json:"ignore,omitempty"`
}

func (x FunctionMacroException) Apply(info FunctionMacroInfo) FunctionMacroInfo {
	setIf(&info.Definition, x.Definition)
	if x.Availability != nil {
		info.Availability = x.Availability
	}
	return info
}

type ReturnException struct {
	Typestr                *string       `json:"typestr,omitempty"`
	TypeName               *string       `json:"type_name,omitempty"`
	NullAccepted           *bool         `json:"null_accepted,omitempty"`
	AlreadyRetained        *bool         `json:"already_retained,omitempty"`
	AlreadyCFRetained      *bool         `json:"already_cfretained,omitempty"`
	Callable               *CallbackInfo `json:"callable,omitempty"`
	CArrayOfVariableLength *bool         `json:"c_array_of_variable_length,omitempty"`
	CArrayDelimitedByNull  *bool         `json:"c_array_delimited_by_null,omitempty"`
}

func (x ReturnException) Apply(info ReturnInfo) ReturnInfo {
	setIf(&info.Typestr, x.Typestr)
	if x.TypeName != nil {
		info.TypeName = x.TypeName
	}
	if x.NullAccepted != nil {
		info.NullAccepted = x.NullAccepted
	}
	setIf(&info.AlreadyRetained, x.AlreadyRetained)
	setIf(&info.AlreadyCFRetained, x.AlreadyCFRetained)
	if x.Callable != nil {
		info.Callable = x.Callable
	}
	setIf(&info.CArrayOfVariableLength, x.CArrayOfVariableLength)
	setIf(&info.CArrayDelimitedByNull, x.CArrayDelimitedByNull)
	return info
}

type ArgException struct {
	Typestr                *string       `json:"typestr,omitempty"`
	Name                   *string       `json:"name,omitempty"`
	TypeName               *string       `json:"type_name,omitempty"`
	TypeModifier           *string       `json:"type_modifier,omitempty"`
	NullAccepted           *bool         `json:"null_accepted,omitempty"`
	PrintfFormat           *bool         `json:"printf_format,omitempty"`
	AlreadyRetained        *bool         `json:"already_retained,omitempty"`
	AlreadyCFRetained      *bool         `json:"already_cfretained,omitempty"`
	Callable               *CallbackInfo `json:"callable,omitempty"`
	CallableRetained       *bool         `json:"callable_retained,omitempty"`
	CArrayLengthInArg      *int          `json:"c_array_length_in_arg,omitempty"`
	CArrayLengthInResult   *bool         `json:"c_array_length_in_result,omitempty"`
	CArrayOfVariableLength *bool         `json:"c_array_of_variable_length,omitempty"`
	CArrayDelimitedByNull  *bool         `json:"c_array_delimited_by_null,omitempty"`
}

func (x ArgException) Apply(info ArgInfo) ArgInfo {
	setIf(&info.Typestr, x.Typestr)
	if x.Name != nil {
		info.Name = x.Name
	}
	if x.TypeName != nil {
		info.TypeName = x.TypeName
	}
	if x.TypeModifier != nil {
		info.TypeModifier = x.TypeModifier
	}
	if x.NullAccepted != nil {
		info.NullAccepted = x.NullAccepted
	}
	setIf(&info.PrintfFormat, x.PrintfFormat)
	setIf(&info.AlreadyRetained, x.AlreadyRetained)
	setIf(&info.AlreadyCFRetained, x.AlreadyCFRetained)
	if x.Callable != nil {
		info.Callable = x.Callable
	}
	if x.CallableRetained != nil {
		info.CallableRetained = x.CallableRetained
	}
	if x.CArrayLengthInArg != nil {
		info.CArrayLengthInArg = x.CArrayLengthInArg
	}
	setIf(&info.CArrayLengthInResult, x.CArrayLengthInResult)
	setIf(&info.CArrayOfVariableLength, x.CArrayOfVariableLength)
	setIf(&info.CArrayDelimitedByNull, x.CArrayDelimitedByNull)
	return info
}

// FunctionException overrides parts of a function. Args is keyed by
// argument index.
type FunctionException struct {
	Retval       *ReturnException     `json:"retval,omitempty"`
	Args         map[int]ArgException `json:"arguments,omitempty"`
	Inline       *bool                `json:"inline,omitempty"`
	Variadic     *bool                `json:"variadic,omitempty"`
	PrintfFormat *int                 `json:"printf_format,omitempty"`
	Availability *AvailabilityInfo    `json:"availability,omitempty"`
	Ignore       bool                 `json:"ignore,omitempty"`
}

func (x FunctionException) Apply(info FunctionInfo) FunctionInfo {
	if x.Retval != nil {
		info.Retval = x.Retval.Apply(info.Retval)
	}
	if len(x.Args) > 0 {
		args := make([]ArgInfo, len(info.Args))
		copy(args, info.Args)
		for i, ax := range x.Args {
			if i >= 0 && i < len(args) {
				args[i] = ax.Apply(args[i])
			}
		}
		info.Args = args
	}
	setIf(&info.Inline, x.Inline)
	setIf(&info.Variadic, x.Variadic)
	if x.PrintfFormat != nil {
		info.PrintfFormat = x.PrintfFormat
	}
	if x.Availability != nil {
		info.Availability = x.Availability
	}
	return info
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
