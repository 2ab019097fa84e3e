package response

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PoWChallenge is a server-issued proof-of-work puzzle. The client must find
// a nonce such that sha256(prefix + nonce) starts with Difficulty zero hex
// digits. The signature binds id, prefix, difficulty and expiry so a client
// cannot lower its own difficulty.
type PoWChallenge struct {
	ID         string `json:"challenge_id"`
	SessionID  string `json:"-"`
	Prefix     string `json:"prefix"`
	Difficulty int    `json:"difficulty"`
	IssuedAt   int64  `json:"issued_at"`
	ExpiresAt  int64  `json:"expires_at"`
	Sig        string `json:"sig"`
}

// PoWSolution is the client's answer.
type PoWSolution struct {
	ChallengeID string `json:"challenge_id"`
	Nonce       int64  `json:"nonce"`
}

// VerifyOutcome explains why a solution was accepted or rejected. SessionID
// identifies whose challenge was solved so the caller can record the pass.
type VerifyOutcome struct {
	Valid     bool
	Reason    string
	SessionID string
}

// ChallengeStore issues and verifies proof-of-work challenges. Solutions are
// single-use; expired challenges are swept periodically.
type ChallengeStore struct {
	mu         sync.Mutex
	secret     []byte
	challenges map[string]PoWChallenge
	solved     map[string]bool

	now func() time.Time
}

// NewChallengeStore creates a store signing with the given secret. An empty
// secret gets a random one, which is fine for a single-process deployment.
func NewChallengeStore(secret string) *ChallengeStore {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}
	return &ChallengeStore{
		secret:     key,
		challenges: make(map[string]PoWChallenge),
		solved:     make(map[string]bool),
		now:        time.Now,
	}
}

// Issue creates a signed challenge bound to the session, valid for ttl.
func (s *ChallengeStore) Issue(sessionID string, difficulty int, ttl time.Duration) PoWChallenge {
	now := s.now()

	var prefixBytes [16]byte
	_, _ = rand.Read(prefixBytes[:])

	c := PoWChallenge{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Prefix:     hex.EncodeToString(prefixBytes[:]),
		Difficulty: difficulty,
		IssuedAt:   now.Unix(),
		ExpiresAt:  now.Add(ttl).Unix(),
	}
	c.Sig = s.sign(c)

	s.mu.Lock()
	s.challenges[c.ID] = c
	s.mu.Unlock()
	return c
}

// Verify checks a solution: the challenge must exist, be unexpired, unused,
// carry a valid signature, and the hash must meet the difficulty target.
func (s *ChallengeStore) Verify(sol PoWSolution) VerifyOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[sol.ChallengeID]
	if !ok {
		return VerifyOutcome{Reason: "unknown challenge"}
	}
	if s.solved[sol.ChallengeID] {
		return VerifyOutcome{Reason: "solution already used"}
	}
	if s.now().Unix() > c.ExpiresAt {
		delete(s.challenges, sol.ChallengeID)
		return VerifyOutcome{Reason: "challenge expired"}
	}
	if !hmac.Equal([]byte(c.Sig), []byte(s.sign(c))) {
		return VerifyOutcome{Reason: "bad signature"}
	}

	sum := sha256.Sum256([]byte(c.Prefix + strconv.FormatInt(sol.Nonce, 10)))
	digest := hex.EncodeToString(sum[:])
	if !strings.HasPrefix(digest, strings.Repeat("0", c.Difficulty)) {
		return VerifyOutcome{Reason: "hash does not meet difficulty"}
	}

	s.solved[sol.ChallengeID] = true
	delete(s.challenges, sol.ChallengeID)
	return VerifyOutcome{Valid: true, SessionID: c.SessionID}
}

// Sweep drops expired challenges and caps the solved-solution set.
func (s *ChallengeStore) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().Unix()
	for id, c := range s.challenges {
		if now > c.ExpiresAt {
			delete(s.challenges, id)
		}
	}
	if len(s.solved) > 10000 {
		s.solved = make(map[string]bool)
	}
}

func (s *ChallengeStore) sign(c PoWChallenge) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(c.ID))
	mac.Write([]byte(c.Prefix))
	mac.Write([]byte(strconv.Itoa(c.Difficulty)))
	mac.Write([]byte(strconv.FormatInt(c.ExpiresAt, 10)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Solve brute-forces a challenge. Exported for clients and tests; the
// production path never calls it server-side.
func Solve(c PoWChallenge, maxAttempts int64) (int64, bool) {
	target := strings.Repeat("0", c.Difficulty)
	for nonce := int64(0); nonce < maxAttempts; nonce++ {
		sum := sha256.Sum256([]byte(c.Prefix + strconv.FormatInt(nonce, 10)))
		if strings.HasPrefix(hex.EncodeToString(sum[:]), target) {
			return nonce, true
		}
	}
	return 0, false
}
