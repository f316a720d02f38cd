package domain

// AdmissionOutcome is the only thing a claimant ever learns synchronously.
type AdmissionOutcome int

const (
	AdmissionAccepted AdmissionOutcome = iota
	AdmissionSoldOut
	AdmissionDuplicate
	AdmissionBusy
)

func (o AdmissionOutcome) String() string {
	switch o {
	case AdmissionAccepted:
		return "ACCEPTED"
	case AdmissionSoldOut:
		return "REJECTED_SOLD_OUT"
	case AdmissionDuplicate:
		return "REJECTED_DUPLICATE"
	case AdmissionBusy:
		return "REJECTED_BUSY"
	default:
		return "UNKNOWN"
	}
}

type Admission struct {
	Outcome   AdmissionOutcome
	RequestID string
}

// ReserveResult is what the counter store reports for one reservation attempt.
type ReserveResult int

const (
	ReserveAccepted ReserveResult = iota
	ReserveReplayed
	ReserveSoldOut
	ReserveDuplicate
	ReserveInactive
	ReserveClosed
)

func (r ReserveResult) String() string {
	switch r {
	case ReserveAccepted:
		return "accepted"
	case ReserveReplayed:
		return "replayed"
	case ReserveSoldOut:
		return "sold_out"
	case ReserveDuplicate:
		return "duplicate"
	case ReserveInactive:
		return "inactive"
	case ReserveClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// IssueOutcome is the terminal-or-not result of processing one claim event.
type IssueOutcome int

const (
	IssueIssued IssueOutcome = iota
	IssueDuplicateNoop
	IssueFailedRetryable
	IssueFailedTerminal
)

func (o IssueOutcome) String() string {
	switch o {
	case IssueIssued:
		return "ISSUED"
	case IssueDuplicateNoop:
		return "DUPLICATE_NOOP"
	case IssueFailedRetryable:
		return "FAILED_RETRYABLE"
	case IssueFailedTerminal:
		return "FAILED_TERMINAL"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the event needs no further delivery.
func (o IssueOutcome) Terminal() bool {
	return o != IssueFailedRetryable
}

type IssueResult struct {
	Outcome  IssueOutcome
	Attempts int
	Err      error
}

// CampaignDrift describes what one reconciliation pass changed for a campaign.
type CampaignDrift struct {
	CampaignID      int64
	Rebuilt         bool
	ReleasedStale   int
	RestoredMarkers int
	Delta           int
	Remaining       int
}

func (d CampaignDrift) Changed() bool {
	return d.Rebuilt || d.ReleasedStale > 0 || d.RestoredMarkers > 0 || d.Delta != 0
}
