package diag

import (
	"fmt"
)

type Code uint16

const (
	// Неизвестная ошибка - на первое время
	UnknownCode Code = 0

	// Registry / graph construction
	GraphInfo             Code = 1000
	GraphProducerMissing  Code = 1001
	GraphOutputIndexRange Code = 1002
	GraphDuplicateNode    Code = 1003
	GraphNonTaskNoInput   Code = 1004
	GraphDuplicateTensor  Code = 1005
	GraphEventUnpaired    Code = 1006
	GraphSummaryIndex     Code = 1007
	GraphSummaryMissing   Code = 1008

	// Lifetime / dependency analysis
	LifeInfo              Code = 2000
	LifeStreamLookupMiss  Code = 2001

	// Constraint preprocessing
	ConstrInfo                Code = 3000
	ConstrRefNotInContiguous  Code = 3001
	ConstrRefPositionMismatch Code = 3002
	ConstrRefListConflict     Code = 3003
	ConstrRefListSizeMismatch Code = 3004
	ConstrRefPairUncovered    Code = 3005
	ConstrRefOddContiguous    Code = 3006
	ConstrRemoveListMissing   Code = 3007

	// Solver
	SolveInfo   Code = 4000
	SolveFailed Code = 4001

	// Plan cache
	CacheInfo           Code = 5000
	CacheOpenFailed     Code = 5001
	CacheParseFailed    Code = 5002
	CacheVerifyMismatch Code = 5003
	CacheTensorMismatch Code = 5004
	CacheWriteFailed    Code = 5005
)

func (c Code) String() string {
	return fmt.Sprintf("SOMAS%04d", uint16(c))
}
