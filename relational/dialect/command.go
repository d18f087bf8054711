package dialect

// DbType describes how a parameter value should be sent to the server.
type DbType int

const (
	AnsiString DbType = iota
	String
	Int32
	Int64
	DateTime
	Boolean
	Binary
)

func (t DbType) String() string {
	switch t {
	case AnsiString:
		return "AnsiString"
	case String:
		return "String"
	case Int32:
		return "Int32"
	case Int64:
		return "Int64"
	case DateTime:
		return "DateTime"
	case Boolean:
		return "Boolean"
	case Binary:
		return "Binary"
	default:
		return "Unknown"
	}
}

type Param struct {
	Name  string
	Value interface{}
	Type  DbType
	// Size is the declared maximum length for string and binary types, zero
	// when unbounded.
	Size int
}

// Command is a stored procedure invocation being prepared for a vendor. The
// parameter order is the order in which they were added and is the order used
// for positional call syntaxes.
type Command struct {
	Procedure string
	Params    []Param
}

func NewCommand(procedure string) *Command {
	return &Command{
		Procedure: procedure,
		Params:    make([]Param, 0, 8),
	}
}

// AddParameter adds a parameter, replacing the value of an existing parameter
// with the same name in place.
func (c *Command) AddParameter(name string, value interface{}, dbType DbType, size int) {
	p := Param{Name: name, Value: value, Type: dbType, Size: size}
	for i := range c.Params {
		if c.Params[i].Name == name {
			c.Params[i] = p
			return
		}
	}
	c.Params = append(c.Params, p)
}

func (c *Command) Param(name string) (Param, bool) {
	for _, p := range c.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Value returns the bound value for name, or nil when it was never bound.
func (c *Command) Value(name string) interface{} {
	if p, ok := c.Param(name); ok {
		return p.Value
	}
	return nil
}

func (c *Command) RemoveParameter(name string) bool {
	for i, p := range c.Params {
		if p.Name == name {
			c.Params = append(c.Params[:i], c.Params[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Command) Args() []interface{} {
	args := make([]interface{}, 0, len(c.Params))
	for _, p := range c.Params {
		args = append(args, p.Value)
	}
	return args
}
