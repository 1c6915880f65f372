package tournament

// Outbound is the send side of one tournament socket. TrySend must not
// block; false means the queue is full and the subscriber is dropped.
type Outbound interface {
	TrySend(event interface{}) bool
	Close(code int, reason string)
}

// Event is the broadcast envelope every subscriber observes in identical
// order.
type Event struct {
	Type         string      `json:"type"` // "announceNext" or "result"
	TournamentID string      `json:"tournamentId"`
	Payload      interface{} `json:"payload"`
}

// AnnouncePayload names the next pairing.
type AnnouncePayload struct {
	MatchID string `json:"matchId"`
	P1      string `json:"p1"`
	P2      string `json:"p2"`
	P1Alias string `json:"p1Alias"`
	P2Alias string `json:"p2Alias"`
	Order   int    `json:"order"`
}

// ResultPayload reports a completed pairing.
type ResultPayload struct {
	MatchID  string `json:"matchId"`
	WinnerID string `json:"winnerId"`
	P1Score  int    `json:"p1Score"`
	P2Score  int    `json:"p2Score"`
}

// SubscribedEvent acknowledges a subscription.
type SubscribedEvent struct {
	Type         string `json:"type"` // "subscribed"
	TournamentID string `json:"tournamentId"`
}

// UnsubscribedEvent acknowledges an unsubscribe.
type UnsubscribedEvent struct {
	Type         string `json:"type"` // "unsubscribed"
	TournamentID string `json:"tournamentId"`
}
