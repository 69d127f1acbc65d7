package transform

import (
	"errors"
	"net/url"
	"testing"

	"github.com/pixelhub/pixelhub/internal/imaging"
)

func replaceRegistry(t *testing.T) func() {
	t.Helper()
	prev := globalRegistry
	globalRegistry = newRegistry()
	return func() { globalRegistry = prev }
}

func identity(img *imaging.Image, _ *url.URL) (*imaging.Image, error) {
	return img, nil
}

func TestRegisterResolveAndList(t *testing.T) {
	cleanup := replaceRegistry(t)
	defer cleanup()

	if err := Register(Transform{Key: "beta", Apply: identity}); err != nil {
		t.Fatalf("register beta failed: %v", err)
	}
	if err := Register(Transform{Key: "Alpha", Apply: identity}); err != nil {
		t.Fatalf("register alpha failed: %v", err)
	}

	if _, ok := Resolve("BETA"); !ok {
		t.Fatalf("resolve should be case-insensitive")
	}
	keys := Keys()
	if len(keys) != 2 || keys[0] != "alpha" || keys[1] != "beta" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestRegisterRejectsInvalid(t *testing.T) {
	cleanup := replaceRegistry(t)
	defer cleanup()

	if err := Register(Transform{Key: "x", Apply: identity}); err != nil {
		t.Fatalf("first registration should succeed: %v", err)
	}
	if err := Register(Transform{Key: "x", Apply: identity}); err == nil {
		t.Fatalf("duplicate registration should fail")
	}
	if err := Register(Transform{Key: " ", Apply: identity}); err == nil {
		t.Fatalf("empty key should fail")
	}
	if err := Register(Transform{Key: "nofunc"}); err == nil {
		t.Fatalf("missing Apply should fail")
	}
}

func TestLookupChainsTransforms(t *testing.T) {
	cleanup := replaceRegistry(t)
	defer cleanup()

	var calls []string
	record := func(name string) Func {
		return func(img *imaging.Image, _ *url.URL) (*imaging.Image, error) {
			calls = append(calls, name)
			return img, nil
		}
	}
	MustRegister(Transform{Key: "first", Apply: record("first")})
	MustRegister(Transform{Key: "second", Apply: record("second")})

	fn, err := Lookup("first, second")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if _, err := fn(&imaging.Image{}, nil); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Fatalf("unexpected call order: %v", calls)
	}

	if fn, err := Lookup(""); err != nil || fn != nil {
		t.Fatalf("empty lookup should return nil, nil")
	}
	if _, err := Lookup("missing"); err == nil {
		t.Fatalf("unknown key should fail")
	}
}

func TestChainStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	fn := Chain(
		func(*imaging.Image, *url.URL) (*imaging.Image, error) { return nil, boom },
		func(*imaging.Image, *url.URL) (*imaging.Image, error) {
			t.Fatalf("second transform must not run")
			return nil, nil
		},
	)
	if _, err := fn(&imaging.Image{}, nil); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	nilResult := Chain(func(*imaging.Image, *url.URL) (*imaging.Image, error) { return nil, nil })
	if _, err := nilResult(&imaging.Image{}, nil); err == nil {
		t.Fatalf("nil image should be an error")
	}
}
