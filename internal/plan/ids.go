package plan

type (
	// NodeID is a node's position in execution order.
	NodeID int32
	// TensorID is a tensor's index in the global tensor list.
	TensorID int32
	// ParamID is a parameter's index in the parameter list.
	ParamID int32
)

// IDs are dense and 0-based so they double as slice indices; -1 marks the
// absent entity.
const (
	NoNode   NodeID   = -1
	NoTensor TensorID = -1
	NoParam  ParamID  = -1
)

func (id NodeID) IsValid() bool   { return id >= 0 }
func (id TensorID) IsValid() bool { return id >= 0 }
func (id ParamID) IsValid() bool  { return id >= 0 }
