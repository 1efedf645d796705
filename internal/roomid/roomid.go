// Package roomid creates and parses memorable room identifiers.
package roomid

import (
	"crypto/rand"
	"errors"
	"math/big"
	"net/url"
	"strings"
)

var ErrInvalid = errors.New("invalid room id")

var pools = [][]string{colors, optics, birds, places, moods}

// Generate returns a word-word-word-word id drawn from four distinct pools.
// taken may be nil; otherwise ids it reports as in use are skipped.
func Generate(taken func(string) bool) string {
	for {
		order := permutation(len(pools))
		words := make([]string, 4)
		for i := range words {
			pool := pools[order[i]]
			words[i] = pool[randomIndex(len(pool))]
		}

		id := strings.Join(words, "-")
		if taken == nil || !taken(id) {
			return id
		}
	}
}

// Parse accepts a bare room id or a room link such as
// https://camsync.example.com/r/amber-lens-heron-harbor.
func Parse(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrInvalid
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", ErrInvalid
		}
		if id := u.Query().Get("room"); id != "" {
			return check(id)
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		return check(parts[len(parts)-1])
	}
	return check(s)
}

func check(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, " /?#") {
		return "", ErrInvalid
	}
	return id, nil
}

// permutation shuffles 0..n-1 with crypto/rand.
func permutation(n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := randomIndex(i + 1)
		p[i], p[j] = p[j], p[i]
	}
	return p
}

func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic("roomid: crypto/rand failed: " + err.Error())
	}
	return int(n.Int64())
}
