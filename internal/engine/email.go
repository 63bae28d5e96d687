package engine

import (
	"fmt"
	"math/rand"
	"strings"
)

// emailDomains are the synthetic domains generated addresses rotate through.
var emailDomains = []string{"email.com", "letters.net", "communication.co.uk"}

// emailFor derives a synthetic address from a generated name: the name
// lowercased with spaces removed, a random 3-digit suffix, and one of the
// synthetic domains. Never derived from the row's original values.
func emailFor(name string, rng *rand.Rand) string {
	local := strings.ReplaceAll(strings.ToLower(name), " ", "")
	return fmt.Sprintf("%s%d@%s", local, 100+rng.Intn(900), emailDomains[rng.Intn(len(emailDomains))])
}
