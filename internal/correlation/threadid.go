package correlation

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"

	"github.com/tbourn/ndi-proof-backend/internal/clock"
)

// ThreadIDPrefix marks every locally minted thread id.
const ThreadIDPrefix = "thread_"

const (
	randomLen = 9
	alphabet  = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// ThreadIDGenerator mints local thread ids of the form
// thread_<unix-millis>_<9 base36 chars>.
type ThreadIDGenerator struct {
	Clock clock.Clock
}

// NewThreadIDGenerator returns a generator bound to clk (Real when nil).
func NewThreadIDGenerator(clk clock.Clock) *ThreadIDGenerator {
	if clk == nil {
		clk = clock.Real{}
	}
	return &ThreadIDGenerator{Clock: clk}
}

// Generate returns a fresh local thread id. It never fails: if the system
// randomness source errors, a time-derived fallback keeps the id well-formed.
func (g *ThreadIDGenerator) Generate() string {
	now := g.Clock.Now()
	var b strings.Builder
	b.Grow(len(ThreadIDPrefix) + 14 + 1 + randomLen)
	b.WriteString(ThreadIDPrefix)
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	b.WriteByte('_')
	b.WriteString(randomSuffix(now.UnixNano()))
	return b.String()
}

// IsValid reports whether token looks like a local thread id. It checks
// structure only, not existence.
func IsValid(token string) bool {
	return len(token) > len(ThreadIDPrefix) && strings.HasPrefix(token, ThreadIDPrefix)
}

func randomSuffix(seed int64) string {
	out := make([]byte, randomLen)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failing is effectively impossible on supported
			// platforms; degrade to the nanosecond clock.
			out[i] = alphabet[(seed>>(uint(i)*5))&0x1f]
			continue
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out)
}
