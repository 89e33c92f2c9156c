package wal

// RecordType discriminates the payload carried by a Record.
type RecordType uint32

const (
	RecordNewOrder  RecordType = 1
	RecordCancel    RecordType = 2
	RecordModify    RecordType = 3
	RecordExecution RecordType = 4
)

func (t RecordType) String() string {
	switch t {
	case RecordNewOrder:
		return "new_order"
	case RecordCancel:
		return "cancel"
	case RecordModify:
		return "modify"
	case RecordExecution:
		return "execution"
	default:
		return "unknown"
	}
}

// Record is one durable log entry. Seq is assigned by the log on
// append and is strictly increasing across segment boundaries.
type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}
