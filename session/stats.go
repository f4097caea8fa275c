package session

import "github.com/puzpuzpuz/xsync/v3"

// Stats is a point-in-time copy of the engine counters.
type Stats struct {
	SendsAttempted int64 `json:"sendsAttempted"`
	SendsSucceeded int64 `json:"sendsSucceeded"`
	SendsFailed    int64 `json:"sendsFailed"`
	Rejected       int64 `json:"rejected"` // refused by the operation guard
	FastPathHits   int64 `json:"fastPathHits"`
	Demotions      int64 `json:"demotions"`
	Scans          int64 `json:"scans"`
	StackResets    int64 `json:"stackResets"`
}

type counters struct {
	sendsAttempted *xsync.Counter
	sendsSucceeded *xsync.Counter
	sendsFailed    *xsync.Counter
	rejected       *xsync.Counter
	fastPathHits   *xsync.Counter
	demotions      *xsync.Counter
	scans          *xsync.Counter
	stackResets    *xsync.Counter
}

func newCounters() counters {
	return counters{
		sendsAttempted: xsync.NewCounter(),
		sendsSucceeded: xsync.NewCounter(),
		sendsFailed:    xsync.NewCounter(),
		rejected:       xsync.NewCounter(),
		fastPathHits:   xsync.NewCounter(),
		demotions:      xsync.NewCounter(),
		scans:          xsync.NewCounter(),
		stackResets:    xsync.NewCounter(),
	}
}

func (c counters) snapshot() Stats {
	return Stats{
		SendsAttempted: c.sendsAttempted.Value(),
		SendsSucceeded: c.sendsSucceeded.Value(),
		SendsFailed:    c.sendsFailed.Value(),
		Rejected:       c.rejected.Value(),
		FastPathHits:   c.fastPathHits.Value(),
		Demotions:      c.demotions.Value(),
		Scans:          c.scans.Value(),
		StackResets:    c.stackResets.Value(),
	}
}
