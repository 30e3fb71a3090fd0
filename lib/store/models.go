package store

import "time"

// TxWatchEntry contains the fields of a submitted transaction awaiting confirmation. Birth and Death are the
// mortality window of the transaction; both are 0 when the submission did not report a block number.
type TxWatchEntry struct {
	TxHash       string    `json:"txHash" bson:"_id"`
	ReferenceID  string    `json:"referenceId" bson:"referenceId"`
	ProviderID   string    `json:"providerId" bson:"providerId"`
	SuccessEvent string    `json:"successEvent" bson:"successEvent"`
	Birth        uint64    `json:"birth,omitempty" bson:"birth"`
	Death        uint64    `json:"death,omitempty" bson:"death"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
}

// Mortal reports whether the entry carries a mortality window.
func (e TxWatchEntry) Mortal() bool {
	return e.Death != 0
}
