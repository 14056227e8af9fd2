package services_test

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/sophialabs/stubport/internal/domain/auth"
	"github.com/sophialabs/stubport/internal/domain/match"
	"github.com/sophialabs/stubport/internal/domain/outcome"
	"github.com/sophialabs/stubport/internal/domain/stub"
	"github.com/sophialabs/stubport/internal/infrastructure/services"
	"github.com/sophialabs/stubport/internal/testutil"
)

func newRepo(t *testing.T, stubs ...*stub.Stub) *services.StubRepository {
	t.Helper()
	repo := services.NewStubRepository(match.NewEvaluator(), &testutil.StubRateLimiter{AllowAll: true})
	repo.Reload(buildCatalogue(t, stubs...))
	return repo
}

func buildCatalogue(t *testing.T, stubs ...*stub.Stub) *services.Catalogue {
	t.Helper()
	compiler := newTestCompiler(t)
	entries := make([]*match.CompiledStub, 0, len(stubs))
	for _, s := range stubs {
		entries = append(entries, mustCompile(t, compiler, s))
	}
	cat, err := services.NewCatalogue(entries)
	if err != nil {
		t.Fatalf("NewCatalogue failed: %v", err)
	}
	return cat
}

func simpleStub(id, method, url string, status int) *stub.Stub {
	return &stub.Stub{
		ID:        id,
		Request:   stub.Request{Method: method, URL: url},
		Responses: []stub.Response{{Status: status}},
	}
}

func TestStubRepository_EmptyCatalogueIsNotFound(t *testing.T) {
	repo := services.NewStubRepository(match.NewEvaluator(), nil)

	res := repo.Resolve(context.Background(), get("/path/1"))
	if res.Outcome.Kind != outcome.KindNotFound {
		t.Fatalf("expected not found, got %s", res.Outcome.Kind)
	}
	if res.Matched != nil {
		t.Error("expected no matched entry")
	}
}

func TestStubRepository_OKIncrementsHits(t *testing.T) {
	repo := newRepo(t, simpleStub("one", "GET", "/path/1", 200))

	for i := 0; i < 3; i++ {
		res := repo.Resolve(context.Background(), get("/path/1"))
		if res.Outcome.Kind != outcome.KindOK {
			t.Fatalf("expected ok, got %s", res.Outcome.Kind)
		}
		if res.Outcome.Body != nil {
			t.Errorf("expected nil body, got %q", res.Outcome.Body)
		}
	}

	hits, err := repo.HitsFor("one")
	if err != nil {
		t.Fatal(err)
	}
	if hits != 3 {
		t.Errorf("expected 3 hits, got %d", hits)
	}
	if _, err := repo.HitsFor("missing"); !errors.Is(err, stub.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStubRepository_FirstInsertedWins(t *testing.T) {
	repo := newRepo(t,
		simpleStub("first", "GET", "/items/.*", 200),
		simpleStub("second", "GET", "/items/1", 201),
	)

	var wg sync.WaitGroup
	errs := make(chan string, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := repo.Resolve(context.Background(), get("/items/1"))
			if res.Matched == nil || res.Matched.ID != "first" {
				errs <- fmt.Sprintf("unexpected match %+v", res.Matched)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
}

func TestStubRepository_UnauthorizedIsFinal(t *testing.T) {
	secured := simpleStub("secured", "GET", "/path/1", 200)
	secured.Request.Authorization = &stub.Authorization{Scheme: "basic", Credential: "user:pass"}
	public := simpleStub("public", "GET", "/path/1", 200)

	repo := newRepo(t, secured, public)

	res := repo.Resolve(context.Background(), match.NewDescriptor(match.MethodGet, "/path/1", nil,
		map[string][]string{"Authorization": {""}}, nil))
	if res.Outcome.Kind != outcome.KindUnauthorized {
		t.Fatalf("expected unauthorized, got %s", res.Outcome.Kind)
	}
	if res.Outcome.Message != auth.ReasonMissingHeader {
		t.Errorf("unexpected reason %q", res.Outcome.Message)
	}
	if res.Matched == nil || res.Matched.ID != "secured" {
		t.Errorf("expected secured entry, got %+v", res.Matched)
	}

	hits := repo.Hits()
	if hits[0].Hits != 0 || hits[1].Hits != 0 {
		t.Errorf("expected no hits on unauthorized resolution, got %+v", hits)
	}

	encoded := base64.StdEncoding.EncodeToString([]byte("user:pass"))
	res = repo.Resolve(context.Background(), match.NewDescriptor(match.MethodGet, "/path/1", nil,
		map[string][]string{"Authorization": {"Basic " + encoded}}, nil))
	if res.Outcome.Kind != outcome.KindOK {
		t.Fatalf("expected ok with credentials, got %s (%s)", res.Outcome.Kind, res.Outcome.Message)
	}
}

func TestStubRepository_ConcurrentHitsAreNotLost(t *testing.T) {
	repo := newRepo(t, simpleStub("hot", "GET", "/hot", 200))

	const n = 500
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			repo.Resolve(context.Background(), get("/hot"))
		}()
	}
	wg.Wait()

	hits, _ := repo.HitsFor("hot")
	if hits != n {
		t.Errorf("expected %d hits, got %d", n, hits)
	}
}

func TestStubRepository_SequencedResponses(t *testing.T) {
	s := &stub.Stub{
		ID:      "seq",
		Request: stub.Request{Method: "GET", URL: "/seq"},
		Responses: []stub.Response{
			{Status: 200, Body: strPtr("first")},
			{Status: 500, Body: strPtr("second")},
		},
	}
	repo := newRepo(t, s)

	want := []string{"first", "second", "second"}
	for i, w := range want {
		res := repo.Resolve(context.Background(), get("/seq"))
		if string(res.Outcome.Body) != w {
			t.Errorf("call %d: body = %q, want %q", i, res.Outcome.Body, w)
		}
	}
}

func TestStubRepository_ReloadResetsHits(t *testing.T) {
	repo := newRepo(t, simpleStub("one", "GET", "/one", 200))
	repo.Resolve(context.Background(), get("/one"))

	v := repo.Reload(buildCatalogue(t, simpleStub("one", "GET", "/one", 200), simpleStub("two", "GET", "/two", 200)))
	if v != 2 {
		t.Errorf("expected version 2, got %d", v)
	}

	hits := repo.Hits()
	if len(hits) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(hits))
	}
	if hits[0].ID != "one" || hits[0].Hits != 0 {
		t.Errorf("expected fresh counter for 'one', got %+v", hits[0])
	}
}

func TestStubRepository_ReloadIsAtomic(t *testing.T) {
	// Version A answers both paths with 200, version B with 201. A resolution
	// must see one version only, so both calls made against the same snapshot
	// agree.
	catA := buildCatalogue(t, simpleStub("a1", "GET", "/x", 200), simpleStub("a2", "GET", "/y", 200))
	catB := buildCatalogue(t, simpleStub("b1", "GET", "/x", 201), simpleStub("b2", "GET", "/y", 201))

	repo := services.NewStubRepository(match.NewEvaluator(), nil)
	repo.Reload(catA)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ctx.Err() == nil; i++ {
			if i%2 == 0 {
				repo.Reload(catB)
			} else {
				repo.Reload(catA)
			}
		}
	}()

	for i := 0; i < 2000; i++ {
		snap := repo.Snapshot()
		all := snap.All()
		if len(all) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(all))
		}
		if all[0].ID[0] != all[1].ID[0] {
			t.Fatalf("observed a mixed catalogue: %s, %s", all[0].ID, all[1].ID)
		}
		res := repo.Resolve(context.Background(), get("/x"))
		if res.Outcome.Kind != outcome.KindOK {
			t.Fatalf("expected ok, got %s", res.Outcome.Kind)
		}
	}

	cancel()
	wg.Wait()
}

func TestStubRepository_RateLimited(t *testing.T) {
	s := simpleStub("limited", "GET", "/limited", 200)
	s.Policy = &stub.Policy{RateLimit: &stub.RateLimit{Rate: 1, Burst: 1}}

	repo := services.NewStubRepository(match.NewEvaluator(), &testutil.StubRateLimiter{AllowAll: false})
	repo.Reload(buildCatalogue(t, s))

	res := repo.Resolve(context.Background(), get("/limited"))
	if !res.RateLimited {
		t.Fatal("expected rate limited resolution")
	}
	if res.Outcome.Kind != outcome.KindError || res.Outcome.Status != 429 {
		t.Errorf("expected 429 error, got %s %d", res.Outcome.Kind, res.Outcome.Status)
	}
	if hits, _ := repo.HitsFor("limited"); hits != 0 {
		t.Errorf("expected rejected request not to count as a hit, got %d", hits)
	}
}

func TestNewCatalogue_DuplicateID(t *testing.T) {
	_, err := services.NewCatalogue([]*match.CompiledStub{{ID: "dup"}, {ID: "dup"}})
	if err == nil {
		t.Error("expected duplicate ID error")
	}
}

func TestCatalogue_Lookup(t *testing.T) {
	cat := buildCatalogue(t, simpleStub("a", "GET", "/a", 200), simpleStub("b", "POST", "/b", 200))

	if cat.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", cat.Len())
	}
	if cs, ok := cat.Lookup("b"); !ok || cs.Method != match.MethodPost {
		t.Errorf("unexpected lookup result: %+v, %v", cs, ok)
	}
	if cat.CountByMethod(match.MethodGet) != 1 {
		t.Errorf("expected 1 GET entry, got %d", cat.CountByMethod(match.MethodGet))
	}
}
