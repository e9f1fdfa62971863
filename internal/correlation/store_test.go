package correlation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/ndi-proof-backend/internal/clock"
)

func TestThreadIDGenerator_Format(t *testing.T) {
	g := NewThreadIDGenerator(clock.NewMock(time.UnixMilli(1700000000123)))
	id := g.Generate()

	require.True(t, strings.HasPrefix(id, "thread_1700000000123_"), id)
	suffix := strings.TrimPrefix(id, "thread_1700000000123_")
	assert.Len(t, suffix, 9)
	for _, r := range suffix {
		assert.True(t, strings.ContainsRune(alphabet, r), "unexpected rune %q", r)
	}
	assert.True(t, IsValid(id))
}

func TestIsValid(t *testing.T) {
	assert.False(t, IsValid(""))
	assert.False(t, IsValid("thread_"))
	assert.False(t, IsValid("xthread_1"))
	assert.True(t, IsValid("thread_1_a"))
}

func TestCorrelationStore(t *testing.T) {
	s := NewCorrelationStore()
	require.NoError(t, s.Create("L1"))
	assert.ErrorIs(t, s.Create("L1"), ErrDuplicateID)
	assert.ErrorIs(t, s.AttachProvider("L2", "P"), ErrUnknownLocalID)

	require.NoError(t, s.AttachProvider("L1", "P1"))
	got, ok := s.ResolveLocal("P1")
	require.True(t, ok)
	assert.Equal(t, "L1", got)

	// re-attach drops the stale reverse entry
	require.NoError(t, s.AttachProvider("L1", "P2"))
	_, ok = s.ResolveLocal("P1")
	assert.False(t, ok)
	p, ok := s.Provider("L1")
	require.True(t, ok)
	assert.Equal(t, "P2", p)
}

func TestPendingRegistry(t *testing.T) {
	p := NewPendingRegistry()
	p.MarkPending("a", t0)
	p.MarkPending("b", t0.Add(time.Hour))
	p.Clear("missing")
	assert.True(t, p.IsPending("a"))

	removed := p.SweepExpired(t0.Add(90*time.Minute), time.Hour)
	assert.Equal(t, []string{"a"}, removed)
	assert.False(t, p.IsPending("a"))
	assert.True(t, p.IsPending("b"))

	p.Clear("b")
	assert.Equal(t, 0, p.Len())
}

func TestResultCache_ThreeWay(t *testing.T) {
	p := NewPendingRegistry()
	c := NewResultCache(p)

	_, st := c.Get("x")
	assert.Equal(t, StatusNotFound, st)

	p.MarkPending("x", t0)
	_, st = c.Get("x")
	assert.Equal(t, StatusPending, st)

	attrs := map[string]string{"k": "v"}
	c.Put("x", VerificationResult{LocalThreadID: "x", UserAttributes: attrs, RecordedAt: t0})
	attrs["k"] = "mutated"

	res, st := c.Get("x")
	assert.Equal(t, StatusResolved, st)
	assert.Equal(t, "v", res.UserAttributes["k"])

	// overwrite is allowed
	c.Put("x", VerificationResult{LocalThreadID: "x", Outcome: "again", RecordedAt: t0})
	res, _ = c.Get("x")
	assert.Equal(t, "again", res.Outcome)
}

func TestSweepExpired_SkipsEntriesWithoutTimestamp(t *testing.T) {
	p := NewPendingRegistry()
	p.MarkPending("zero", time.Time{})
	p.MarkPending("old", t0)

	c := NewResultCache(nil)
	c.Put("zero", VerificationResult{LocalThreadID: "zero"})
	c.Put("old", VerificationResult{LocalThreadID: "old", RecordedAt: t0})

	d := NewWebhookDeduplicator()
	d.MarkProcessed("Pzero", false, time.Time{})
	d.MarkProcessed("Pold", false, t0)

	later := t0.Add(2 * time.Hour)
	assert.Equal(t, []string{"old"}, p.SweepExpired(later, time.Hour))
	assert.Equal(t, []string{"old"}, c.SweepExpired(later, time.Hour))
	assert.Equal(t, []string{"Pold"}, d.SweepExpired(later, time.Hour))

	assert.True(t, p.IsPending("zero"))
	assert.Equal(t, 1, c.Len())
	assert.True(t, d.AlreadyProcessed("Pzero"))
}

func TestCorrelationStore_RemoveUnattached(t *testing.T) {
	s := NewCorrelationStore()
	require.NoError(t, s.Create("a"))
	require.NoError(t, s.Create("b"))
	require.NoError(t, s.AttachProvider("b", "P1"))

	assert.True(t, s.RemoveUnattached("a"))
	assert.False(t, s.RemoveUnattached("a"))
	assert.False(t, s.RemoveUnattached("b"))
	assert.False(t, s.RemoveUnattached("missing"))

	assert.Equal(t, 1, s.Len())
	local, ok := s.ResolveLocal("P1")
	require.True(t, ok)
	assert.Equal(t, "b", local)
}

func TestWebhookDeduplicator(t *testing.T) {
	d := NewWebhookDeduplicator()
	assert.False(t, d.AlreadyProcessed("P1"))
	d.MarkProcessed("P1", true, t0)
	assert.True(t, d.AlreadyProcessed("P1"))

	r, ok := d.Receipt("P1")
	require.True(t, ok)
	assert.True(t, r.IsExistingUser)

	assert.Empty(t, d.SweepExpired(t0.Add(time.Hour), time.Hour))
	assert.Equal(t, []string{"P1"}, d.SweepExpired(t0.Add(time.Hour+1), time.Hour))
}
