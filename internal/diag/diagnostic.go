package diag

import "fmt"

// Diagnostic is one planner finding. Node and Tensor give the offending
// entity when known; -1 means not applicable.
type Diagnostic struct {
	Severity Severity
	Code     Code
	Message  string
	Node     int
	Tensor   int
}

// Warnf builds a warning diagnostic without entity context.
func Warnf(code Code, format string, args ...any) Diagnostic {
	return Diagnostic{
		Severity: SevWarning,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Node:     -1,
		Tensor:   -1,
	}
}

// Infof builds an informational diagnostic.
func Infof(code Code, format string, args ...any) Diagnostic {
	return Diagnostic{
		Severity: SevInfo,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Node:     -1,
		Tensor:   -1,
	}
}

// WithNode attaches a node id.
func (d Diagnostic) WithNode(id int) Diagnostic {
	d.Node = id
	return d
}

// WithTensor attaches a tensor id.
func (d Diagnostic) WithTensor(id int) Diagnostic {
	d.Tensor = id
	return d
}

func (d Diagnostic) String() string {
	out := fmt.Sprintf("[%s] %s: %s", d.Severity, d.Code, d.Message)
	if d.Node >= 0 {
		out += fmt.Sprintf(" (node %d)", d.Node)
	}
	if d.Tensor >= 0 {
		out += fmt.Sprintf(" (tensor %d)", d.Tensor)
	}
	return out
}
