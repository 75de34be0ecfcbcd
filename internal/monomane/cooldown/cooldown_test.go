package cooldown_test

import (
	"sync"
	"testing"
	"time"

	"github.com/oqilov/monomane/internal/monomane/cooldown"
)

func TestAllowFirstMessage(t *testing.T) {
	g := cooldown.New(3 * time.Second)
	now := time.Unix(1000, 0)

	if !g.Allow("@alice:example.org", now) {
		t.Error("first message from a participant should be allowed")
	}
}

func TestDenyWithinWindow(t *testing.T) {
	g := cooldown.New(3 * time.Second)
	base := time.Unix(1000, 0)

	if !g.Allow("@alice:example.org", base) {
		t.Fatal("first message should be allowed")
	}
	if g.Allow("@alice:example.org", base.Add(3*time.Second-time.Nanosecond)) {
		t.Error("message just inside the window should be denied")
	}
}

func TestAllowAtWindowBoundary(t *testing.T) {
	g := cooldown.New(3 * time.Second)
	base := time.Unix(1000, 0)

	g.Allow("@alice:example.org", base)
	if !g.Allow("@alice:example.org", base.Add(3*time.Second)) {
		t.Error("message exactly at the window boundary should be allowed")
	}
}

func TestDeniedCallDoesNotExtendWindow(t *testing.T) {
	g := cooldown.New(3 * time.Second)
	base := time.Unix(1000, 0)

	g.Allow("@alice:example.org", base)
	// A flood of denied messages must not push the window forward.
	g.Allow("@alice:example.org", base.Add(1*time.Second))
	g.Allow("@alice:example.org", base.Add(2*time.Second))

	if !g.Allow("@alice:example.org", base.Add(3*time.Second)) {
		t.Error("window should still be anchored to the last allowed reply")
	}
}

func TestParticipantsAreIndependent(t *testing.T) {
	g := cooldown.New(3 * time.Second)
	now := time.Unix(1000, 0)

	if !g.Allow("@alice:example.org", now) {
		t.Fatal("alice should be allowed")
	}
	if !g.Allow("@bob:example.org", now) {
		t.Error("bob should be allowed despite alice being on cooldown")
	}
}

func TestNonPositiveWindowUsesDefault(t *testing.T) {
	g := cooldown.New(0)
	base := time.Unix(1000, 0)

	g.Allow("@alice:example.org", base)
	if g.Allow("@alice:example.org", base.Add(cooldown.DefaultWindow-time.Second)) {
		t.Error("default window should apply when constructed with zero")
	}
	if !g.Allow("@alice:example.org", base.Add(cooldown.DefaultWindow)) {
		t.Error("message past the default window should be allowed")
	}
}

func TestConcurrentAllowIsExclusive(t *testing.T) {
	g := cooldown.New(time.Hour)
	now := time.Unix(1000, 0)

	const workers = 32
	var wg sync.WaitGroup
	allowed := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Allow("@alice:example.org", now) {
				allowed <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for range allowed {
		count++
	}
	if count != 1 {
		t.Errorf("exactly one concurrent caller should win the gate, got %d", count)
	}
}
