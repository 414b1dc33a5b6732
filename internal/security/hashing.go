package security

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/alexedwards/argon2id"
	"golang.org/x/crypto/bcrypt"
)

// Supported password hash algorithms. The tag is stored next to each hash so
// verification can pick the right primitive and rehash-on-login can migrate.
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

var (
	// ErrPasswordMismatch is returned by Compare when the password does not match the hash.
	ErrPasswordMismatch = errors.New("password does not match")
	// ErrUnknownAlgorithm is returned for hashes tagged with an unsupported algorithm.
	ErrUnknownAlgorithm = errors.New("unknown password hash algorithm")
)

// Argon2Params tunes argon2id. Zero fields fall back to argon2id.DefaultParams.
type Argon2Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
}

// HasherOptions configures NewHasher.
type HasherOptions struct {
	// Algorithm used for new hashes; defaults to bcrypt.
	Algorithm  string
	BcryptCost int
	Argon2     Argon2Params
}

// Hasher hashes and verifies passwords with bcrypt or argon2id. Callers must not log or
// persist plaintext passwords.
type Hasher struct {
	algorithm string
	Cost      int
	argon     *argon2id.Params

	dummyOnce sync.Once
	dummyHash string
}

// NewHasher returns a Hasher. The bcrypt cost is clamped to 4–31; cost 12 is a
// reasonable default for interactive login.
func NewHasher(opts HasherOptions) *Hasher {
	cost := opts.BcryptCost
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	params := *argon2id.DefaultParams
	if opts.Argon2.MemoryKiB > 0 {
		params.Memory = opts.Argon2.MemoryKiB
	}
	if opts.Argon2.Iterations > 0 {
		params.Iterations = opts.Argon2.Iterations
	}
	if opts.Argon2.Parallelism > 0 {
		params.Parallelism = opts.Argon2.Parallelism
	}
	alg := opts.Algorithm
	if alg != AlgorithmArgon2id {
		alg = AlgorithmBcrypt
	}
	return &Hasher{algorithm: alg, Cost: cost, argon: &params}
}

// Algorithm returns the algorithm used for new hashes.
func (h *Hasher) Algorithm() string {
	return h.algorithm
}

// Hash hashes password with the configured algorithm and returns the hash and its algorithm tag.
func (h *Hasher) Hash(password []byte) (hash string, algorithm string, err error) {
	switch h.algorithm {
	case AlgorithmArgon2id:
		hash, err = argon2id.CreateHash(string(password), h.argon)
	default:
		var b []byte
		b, err = bcrypt.GenerateFromPassword(password, h.Cost)
		hash = string(b)
	}
	if err != nil {
		return "", "", err
	}
	return hash, h.algorithm, nil
}

// Compare verifies password against a stored hash of the given algorithm in constant time.
// Returns nil on match, ErrPasswordMismatch on mismatch, or another error for a corrupt hash.
func (h *Hasher) Compare(hash, algorithm string, password []byte) error {
	switch algorithm {
	case AlgorithmBcrypt, "":
		err := bcrypt.CompareHashAndPassword([]byte(hash), password)
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return err
	case AlgorithmArgon2id:
		ok, err := argon2id.ComparePasswordAndHash(string(password), hash)
		if err != nil {
			return err
		}
		if !ok {
			return ErrPasswordMismatch
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
}

// NeedsRehash reports whether a stored hash was produced with a different algorithm or
// weaker parameters than the current configuration.
func (h *Hasher) NeedsRehash(hash, algorithm string) bool {
	if algorithm == "" {
		algorithm = AlgorithmBcrypt
	}
	if algorithm != h.algorithm {
		return true
	}
	switch algorithm {
	case AlgorithmBcrypt:
		cost, err := bcrypt.Cost([]byte(hash))
		return err != nil || cost != h.Cost
	case AlgorithmArgon2id:
		params, _, _, err := argon2id.DecodeHash(hash)
		if err != nil {
			return true
		}
		return params.Memory != h.argon.Memory || params.Iterations != h.argon.Iterations || params.Parallelism != h.argon.Parallelism
	}
	return true
}

// DummyCompare runs a comparison against a throwaway hash so that lookups for unknown
// accounts take about as long as real verifications.
func (h *Hasher) DummyCompare(password []byte) {
	h.dummyOnce.Do(func() {
		b := make([]byte, 16)
		_, _ = rand.Read(b)
		h.dummyHash, _, _ = h.Hash(b)
	})
	_ = h.Compare(h.dummyHash, h.algorithm, password)
}
