package codes

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Issued ids look like PTC-9F3A0C217B4D8E61: a short human-readable prefix
// and at least eight uppercase hex characters.
var idFormat = regexp.MustCompile(`^[A-Z0-9]+-[0-9A-F]{8,}$`)

const digestPrefixLen = 16

// Generator derives candidate code ids. Candidates hash together the upload
// id, the drug/batch key, the serial number, the wall clock, a process-unique
// nonce and a random UUID; uniqueness is still arbitrated by storage.
type Generator struct {
	prefix       string
	processNonce string
}

func NewGenerator(prefix string) *Generator {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = "PTC"
	}

	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		// crypto/rand is unavailable; the wall clock keeps nonces distinct
		// across processes started in different nanoseconds.
		return &Generator{prefix: prefix, processNonce: fmt.Sprintf("%x", time.Now().UnixNano())}
	}
	return &Generator{prefix: prefix, processNonce: hex.EncodeToString(nonce)}
}

// Candidate produces one id candidate. It degrades to the fallback path when
// no secure random UUID can be obtained.
func (g *Generator) Candidate(uploadID, key string, serial int) string {
	id, err := uuid.NewRandom()
	if err != nil {
		return g.fallbackCandidate(uploadID, key, serial)
	}

	payload := fmt.Sprintf("%s:%s:%d:%d:%s:%s",
		uploadID, key, serial, time.Now().UnixNano(), g.processNonce, id.String())
	digest := sha256.Sum256([]byte(payload))
	return g.prefix + "-" + strings.ToUpper(hex.EncodeToString(digest[:]))[:digestPrefixLen]
}

func (g *Generator) fallbackCandidate(uploadID, key string, serial int) string {
	entropy := make([]byte, 8)
	_, _ = rand.Read(entropy)
	payload := fmt.Sprintf("%s:%s:%d:%d:%s",
		uploadID, key, serial, time.Now().UnixNano(), hex.EncodeToString(entropy))
	digest := sha256.Sum256([]byte(payload))
	return g.prefix + "-" + strings.ToUpper(hex.EncodeToString(digest[:]))[:digestPrefixLen]
}

// ValidFormat gates candidates before they are persisted.
func ValidFormat(codeID string) bool {
	return idFormat.MatchString(codeID)
}
