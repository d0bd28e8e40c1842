package tenant

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"tilegate/internal/directory"
)

type fakeDirectory struct {
	values map[string]string
	fail   error
}

func (f *fakeDirectory) Get(_ context.Context, key string) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	value, ok := f.values[key]
	if !ok {
		return "", directory.ErrNotFound
	}
	return value, nil
}

func (f *fakeDirectory) Set(_ context.Context, key, value string) error {
	if f.values == nil {
		f.values = make(map[string]string)
	}
	f.values[key] = value
	return nil
}

func (f *fakeDirectory) Delete(_ context.Context, key string) error {
	delete(f.values, key)
	return nil
}

func seededDirectory() *fakeDirectory {
	return &fakeDirectory{values: map[string]string{
		"rails:users:localhost:database_name": "cartodb_test_user_1_db",
		"rails:users:localhost:id":            "1",
		"rails:users:localhost:map_key":       "1234",
	}}
}

func TestResolveKnownHost(t *testing.T) {
	resolver := NewResolver(seededDirectory())
	rec, err := resolver.Resolve(context.Background(), "localhost")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if rec.Database != "cartodb_test_user_1_db" {
		t.Fatalf("unexpected database %q", rec.Database)
	}
	if rec.ID != "1" {
		t.Fatalf("unexpected id %q", rec.ID)
	}
}

func TestResolveUnknownHostCarriesOperatorHint(t *testing.T) {
	resolver := NewResolver(seededDirectory())
	_, err := resolver.Resolve(context.Background(), "unknown_user")
	var unknown *UnknownError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownError, got %v", err)
	}
	want := "missing unknown_user's dbname in redis (try CARTODB/script/restore_redis)"
	if unknown.Error() != want {
		t.Fatalf("message %q, want %q", unknown.Error(), want)
	}
}

func TestResolveIsCaseSensitive(t *testing.T) {
	resolver := NewResolver(seededDirectory())
	if _, err := resolver.Resolve(context.Background(), "LOCALHOST"); err == nil {
		t.Fatal("expected miss for differently-cased host")
	}
}

func TestResolvePropagatesDirectoryFailure(t *testing.T) {
	resolver := NewResolver(&fakeDirectory{fail: fmt.Errorf("connection refused")})
	_, err := resolver.Resolve(context.Background(), "localhost")
	if err == nil {
		t.Fatal("expected error")
	}
	var unknown *UnknownError
	if errors.As(err, &unknown) {
		t.Fatal("transport failure must not be reported as unknown tenant")
	}
}

func TestHostIdentifierStripsPort(t *testing.T) {
	cases := map[string]string{
		"localhost":       "localhost",
		"localhost:8181":  "localhost",
		"Upper.Case:80":   "Upper.Case",
		"[::1]:8181":      "::1",
		"tenant.cartodb.com": "tenant.cartodb.com",
	}
	for in, want := range cases {
		if got := HostIdentifier(in); got != want {
			t.Errorf("HostIdentifier(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAuthorizeEitherParameterMatches(t *testing.T) {
	authority := NewAuthority(seededDirectory())
	rec := Record{Host: "localhost", Database: "cartodb_test_user_1_db"}

	for _, creds := range []Credentials{{APIKey: "1234"}, {MapKey: "1234"}, {APIKey: "1234", MapKey: "nope"}} {
		decision, err := authority.Authorize(context.Background(), rec, creds)
		if err != nil {
			t.Fatalf("authorize: %v", err)
		}
		if decision != AuthenticatedOwner {
			t.Fatalf("creds %+v: expected owner, got %v", creds, decision)
		}
	}
}

func TestAuthorizeRejectsRotatedSecret(t *testing.T) {
	dir := seededDirectory()
	authority := NewAuthority(dir)
	rec := Record{Host: "localhost"}

	decision, err := authority.Authorize(context.Background(), rec, Credentials{MapKey: "1234"})
	if err != nil || decision != AuthenticatedOwner {
		t.Fatalf("pre-rotation: %v %v", decision, err)
	}

	// Rotate the live secret; the old value must now behave exactly like no
	// credential at all.
	dir.values["rails:users:localhost:map_key"] = "5678"
	decision, err = authority.Authorize(context.Background(), rec, Credentials{MapKey: "1234"})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if decision != Anonymous {
		t.Fatal("rotated-out secret accepted")
	}
}

func TestAuthorizeAnonymousCases(t *testing.T) {
	authority := NewAuthority(seededDirectory())
	rec := Record{Host: "localhost"}

	decision, err := authority.Authorize(context.Background(), rec, Credentials{})
	if err != nil || decision != Anonymous {
		t.Fatalf("no credential: %v %v", decision, err)
	}

	noSecret := NewAuthority(&fakeDirectory{values: map[string]string{}})
	decision, err = noSecret.Authorize(context.Background(), rec, Credentials{APIKey: "1234"})
	if err != nil || decision != Anonymous {
		t.Fatalf("missing secret: %v %v", decision, err)
	}
}

func TestCredentialsFromQuery(t *testing.T) {
	query, _ := url.ParseQuery("api_key=abc&map_key=def&sql=select")
	creds := CredentialsFromQuery(query)
	if creds.APIKey != "abc" || creds.MapKey != "def" {
		t.Fatalf("unexpected creds %+v", creds)
	}
}
