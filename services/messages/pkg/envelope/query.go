package envelope

type SortDirection string

const (
	SortAscending  SortDirection = "ascending"
	SortDescending SortDirection = "descending"
)

// Cursor marks the last envelope of a page in (timestamp, sequence) order.
type Cursor struct {
	TimestampNs uint64 `json:"timestampNs"`
	Sequence    uint64 `json:"sequence"`
}

type PagingInfo struct {
	Limit     int           `json:"limit,omitempty"`
	Cursor    *Cursor       `json:"cursor,omitempty"`
	Direction SortDirection `json:"direction,omitempty"`
}

// QueryRequest selects envelopes from one or more topics. Zero time bounds
// are open.
type QueryRequest struct {
	ContentTopics []string   `json:"contentTopics"`
	StartTimeNs   uint64     `json:"startTimeNs,omitempty"`
	EndTimeNs     uint64     `json:"endTimeNs,omitempty"`
	PagingInfo    PagingInfo `json:"pagingInfo"`
}

// QueryResponse carries one page. PagingInfo.Cursor is nil on the last page.
type QueryResponse struct {
	Envelopes  []Envelope `json:"envelopes"`
	PagingInfo PagingInfo `json:"pagingInfo"`
}

type PublishRequest struct {
	Envelopes []Envelope `json:"envelopes"`
}

type PublishResponse struct {
	Envelopes []Envelope `json:"envelopes"`
}

type BatchQueryRequest struct {
	Requests []QueryRequest `json:"requests"`
}

type BatchQueryResponse struct {
	Responses []QueryResponse `json:"responses"`
}
