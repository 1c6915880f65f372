package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// NewMemoryStore returns a Store backed by in-process maps. It honors the
// same contracts as the Postgres implementation and is what the actor test
// suites run against; the stats repo shares the match repo's data.
func NewMemoryStore() *Store {
	matches := NewMemoryMatchRepo()
	return &Store{
		Matches:     matches,
		Tournaments: NewMemoryTournamentRepo(),
		Chat:        NewMemoryChatRepo(),
		Sessions:    NewMemorySessionRepo(),
		Stats:       NewMemoryStatsRepo(matches),
	}
}

// --- matches ---

// MemoryMatchRepo is an in-memory MatchRepo.
type MemoryMatchRepo struct {
	mu      sync.RWMutex
	matches map[string]*Match
}

func NewMemoryMatchRepo() *MemoryMatchRepo {
	return &MemoryMatchRepo{matches: make(map[string]*Match)}
}

func (r *MemoryMatchRepo) Create(_ context.Context, m *Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.matches[m.ID]; exists {
		return ErrConflict
	}
	cp := *m
	r.matches[m.ID] = &cp
	return nil
}

// All returns every stored match, for assertions.
func (r *MemoryMatchRepo) All() []*Match {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Match, 0, len(r.matches))
	for _, m := range r.matches {
		cp := *m
		out = append(out, &cp)
	}
	return out
}

func (r *MemoryMatchRepo) Get(_ context.Context, id string) (*Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.matches[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *MemoryMatchRepo) SetState(_ context.Context, id string, state MatchState, pausedBy *string, startedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[id]
	if !ok || m.State.Terminal() {
		return ErrNotFound
	}
	m.State = state
	m.PausedBy = pausedBy
	if m.StartedAt == nil && startedAt != nil {
		m.StartedAt = startedAt
	}
	return nil
}

func (r *MemoryMatchRepo) Complete(_ context.Context, id string, state MatchState, winnerID string, p1Score, p2Score int, endedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[id]
	if !ok {
		return ErrNotFound
	}
	if m.State.Terminal() {
		return nil // idempotent
	}
	m.State = state
	m.WinnerID = &winnerID
	m.P1Score = p1Score
	m.P2Score = p2Score
	m.EndedAt = &endedAt
	m.PausedBy = nil
	return nil
}

// --- tournaments ---

// MemoryTournamentRepo is an in-memory TournamentRepo.
type MemoryTournamentRepo struct {
	mu          sync.RWMutex
	tournaments map[string]*Tournament
	players     map[string]*TournamentPlayer
	matches     map[string]*TournamentMatch
}

func NewMemoryTournamentRepo() *MemoryTournamentRepo {
	return &MemoryTournamentRepo{
		tournaments: make(map[string]*Tournament),
		players:     make(map[string]*TournamentPlayer),
		matches:     make(map[string]*TournamentMatch),
	}
}

func (r *MemoryTournamentRepo) Create(_ context.Context, t *Tournament) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tournaments[t.ID]; exists {
		return ErrConflict
	}
	cp := *t
	r.tournaments[t.ID] = &cp
	return nil
}

func (r *MemoryTournamentRepo) Get(_ context.Context, id string) (*Tournament, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tournaments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *MemoryTournamentRepo) SetStatus(_ context.Context, id string, status TournamentStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tournaments[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	switch status {
	case TournamentRunning:
		if t.StartedAt == nil {
			t.StartedAt = &at
		}
	case TournamentCompleted:
		if t.CompletedAt == nil {
			t.CompletedAt = &at
		}
	}
	return nil
}

func (r *MemoryTournamentRepo) AddPlayer(_ context.Context, p *TournamentPlayer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.players {
		if existing.TournamentID == p.TournamentID && existing.Alias == p.Alias {
			return ErrConflict
		}
	}
	cp := *p
	r.players[p.ID] = &cp
	return nil
}

func (r *MemoryTournamentRepo) Players(_ context.Context, tournamentID string) ([]*TournamentPlayer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*TournamentPlayer
	for _, p := range r.players {
		if p.TournamentID == tournamentID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryTournamentRepo) SetQueued(_ context.Context, playerID string, queuedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[playerID]
	if !ok {
		return ErrNotFound
	}
	p.QueuedAt = queuedAt
	return nil
}

func (r *MemoryTournamentRepo) CreateMatch(_ context.Context, m *TournamentMatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.matches[m.ID]; exists {
		return ErrConflict
	}
	cp := *m
	r.matches[m.ID] = &cp
	return nil
}

func (r *MemoryTournamentRepo) Matches(_ context.Context, tournamentID string) ([]*TournamentMatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*TournamentMatch
	for _, m := range r.matches {
		if m.TournamentID == tournamentID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (r *MemoryTournamentRepo) SetMatchStatus(_ context.Context, matchID string, status TournamentMatchStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[matchID]
	if !ok {
		return ErrNotFound
	}
	m.Status = status
	if status == TMatchAnnounced && m.AnnouncedAt == nil {
		m.AnnouncedAt = &at
	}
	return nil
}

func (r *MemoryTournamentRepo) CompleteMatch(_ context.Context, matchID, winnerID string, p1Score, p2Score int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[matchID]
	if !ok || m.Status != TMatchAnnounced {
		return ErrConflict
	}
	m.Status = TMatchCompleted
	m.WinnerID = &winnerID
	m.P1Score = &p1Score
	m.P2Score = &p2Score
	m.CompletedAt = &at
	return nil
}

// --- chat ---

// MemoryChatRepo is an in-memory ChatRepo. Channels and memberships are
// seeded through AddChannel/AddMember, standing in for the peripheral CRUD
// that is out of the core's scope.
type MemoryChatRepo struct {
	mu          sync.RWMutex
	channels    map[string]*ChatChannel // by slug
	memberships map[string]map[string]bool
	messages    []*ChatMessage
	blocks      map[[2]string]*Block
}

func NewMemoryChatRepo() *MemoryChatRepo {
	return &MemoryChatRepo{
		channels:    make(map[string]*ChatChannel),
		memberships: make(map[string]map[string]bool),
		blocks:      make(map[[2]string]*Block),
	}
}

// AddChannel seeds a channel.
func (r *MemoryChatRepo) AddChannel(c *ChatChannel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.channels[c.Slug] = &cp
}

// AddMember seeds a membership.
func (r *MemoryChatRepo) AddMember(channelID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.memberships[channelID] == nil {
		r.memberships[channelID] = make(map[string]bool)
	}
	r.memberships[channelID][userID] = true
}

func (r *MemoryChatRepo) ChannelBySlug(_ context.Context, slug string) (*ChatChannel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[slug]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryChatRepo) IsMember(_ context.Context, channelID, userID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.memberships[channelID][userID], nil
}

func (r *MemoryChatRepo) SaveMessage(_ context.Context, m *ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.messages = append(r.messages, &cp)
	return nil
}

// Messages returns everything saved so far, for assertions.
func (r *MemoryChatRepo) Messages() []*ChatMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ChatMessage, len(r.messages))
	copy(out, r.messages)
	return out
}

func (r *MemoryChatRepo) AddBlock(_ context.Context, b *Block) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := [2]string{b.BlockerID, b.BlockedID}
	if _, exists := r.blocks[key]; !exists {
		cp := *b
		r.blocks[key] = &cp
	}
	return nil
}

func (r *MemoryChatRepo) RemoveBlock(_ context.Context, blockerID, blockedID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.blocks, [2]string{blockerID, blockedID})
	return nil
}

func (r *MemoryChatRepo) Blocks(_ context.Context) ([]*Block, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Block
	for _, b := range r.blocks {
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

// --- sessions ---

// MemorySessionRepo is an in-memory SessionRepo.
type MemorySessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMemorySessionRepo() *MemorySessionRepo {
	return &MemorySessionRepo{sessions: make(map[string]*Session)}
}

func (r *MemorySessionRepo) Create(_ context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *MemorySessionRepo) Get(_ context.Context, id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MemorySessionRepo) Revoke(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.RevokedAt == nil {
		s.RevokedAt = &at
	}
	return nil
}

// --- stats ---

// MemoryStatsRepo is an in-memory StatsRepo reading completed matches from a
// MemoryMatchRepo.
type MemoryStatsRepo struct {
	mu      sync.RWMutex
	matches *MemoryMatchRepo
	stats   map[string]*UserStats
	recent  map[string][]*RecentMatch
}

func NewMemoryStatsRepo(matches *MemoryMatchRepo) *MemoryStatsRepo {
	return &MemoryStatsRepo{
		matches: matches,
		stats:   make(map[string]*UserStats),
		recent:  make(map[string][]*RecentMatch),
	}
}

func (r *MemoryStatsRepo) CompletedMatchesFor(_ context.Context, userID string) ([]*Match, error) {
	r.matches.mu.RLock()
	defer r.matches.mu.RUnlock()
	var out []*Match
	for _, m := range r.matches.matches {
		if !m.State.Terminal() || m.EndedAt == nil {
			continue
		}
		if m.P1ID == userID || m.P2ID == userID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndedAt.Before(*out[j].EndedAt) })
	return out, nil
}

func (r *MemoryStatsRepo) Rewrite(_ context.Context, stats *UserStats, recent []*RecentMatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *stats
	r.stats[stats.UserID] = &cp
	cps := make([]*RecentMatch, 0, len(recent))
	for _, rm := range recent {
		c := *rm
		cps = append(cps, &c)
	}
	r.recent[stats.UserID] = cps
	return nil
}

func (r *MemoryStatsRepo) Stats(_ context.Context, userID string) (*UserStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stats[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryStatsRepo) RecentMatches(_ context.Context, userID string) ([]*RecentMatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*RecentMatch, 0, len(r.recent[userID]))
	for _, rm := range r.recent[userID] {
		cp := *rm
		out = append(out, &cp)
	}
	return out, nil
}
