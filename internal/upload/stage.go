package upload

// Stage is a state of one pipeline run.
type Stage int

const (
	Idle Stage = iota
	Uploading
	WritingDocument
	Done
	Failed
)

func (s Stage) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Uploading:
		return "Uploading"
	case WritingDocument:
		return "WritingDocument"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	}
	return "Unknown"
}

// Observer is told about every stage a run enters.
type Observer func(productID string, stage Stage)
