package ribbit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/blizztrack/scanner/internal/buildversion"
)

// versionsServer serves one wow_classic versions row (1.13.2.53622) so
// tick() has a build to group and hand to the Publisher.
func versionsServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(versionsSchema + "\n## seqn = 1\nus|aa|bb||53622|1.13.2.53622|cc\n"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

type fakePublisher struct {
	pending []DiscoveredBuild
}

func (f *fakePublisher) FilterUndiscovered(ctx context.Context, builds []DiscoveredBuild) ([]DiscoveredBuild, error) {
	return f.pending, nil
}

func TestPollerTickDispatchesOnlyPendingBuilds(t *testing.T) {
	v, _ := buildversion.Parse("1.13.2.53622")
	pub := &fakePublisher{pending: []DiscoveredBuild{{Product: "wow_classic", Version: v}}}

	srv := versionsServer(t)

	var mu sync.Mutex
	var seen []DiscoveredBuild
	p := &Poller{
		Client:    NewClient(srv.URL),
		Products:  []string{"wow_classic"},
		Publisher: pub,
		OnPending: func(ctx context.Context, build DiscoveredBuild) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, build)
		},
	}

	p.tick(context.Background())

	if len(seen) != 1 || seen[0].Product != "wow_classic" {
		t.Fatalf("expected OnPending dispatched for 1 pending build, got %+v", seen)
	}
}

func TestPollerTickSkipsDispatchWhenNoPending(t *testing.T) {
	pub := &fakePublisher{pending: nil}
	srv := versionsServer(t)
	called := false
	p := &Poller{
		Client:    NewClient(srv.URL),
		Products:  []string{"wow_classic"},
		Publisher: pub,
		OnPending: func(ctx context.Context, build DiscoveredBuild) { called = true },
	}
	p.tick(context.Background())
	if called {
		t.Fatalf("expected OnPending not called when the catalog reports no pending builds")
	}
}
