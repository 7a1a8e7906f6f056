package catalog_test

import (
	"context"
	"errors"
	"testing"

	. "github.com/janovincze/philotes-ibmi/internal/ibmi/catalog"
)

type countingCatalog struct {
	Catalog

	longCalls, systemCalls, charsetCalls int
	fail                                 bool
}

func (c *countingCatalog) LongName(_ context.Context, _, systemName string) (string, error) {
	c.longCalls++
	if c.fail {
		return "", ErrTableNotFound
	}
	return "LONG_" + systemName, nil
}

func (c *countingCatalog) SystemName(_ context.Context, _, longName string) (string, error) {
	c.systemCalls++
	return longName[:4], nil
}

func (c *countingCatalog) BytesPerChar(_ context.Context, ccsid int) (int, error) {
	c.charsetCalls++
	return KnownBytesPerChar(ccsid), nil
}

func TestNameCache(t *testing.T) {
	ctx := context.Background()

	t.Run("it memoizes long names", func(t *testing.T) {
		inner := &countingCatalog{}
		cache := NewNameCache(inner)

		for range 3 {
			name, err := cache.LongName(ctx, "applib", "ORDERS")
			if err != nil {
				t.Fatal(err)
			}
			if name != "LONG_ORDERS" {
				t.Fatalf("LongName() = %q, want LONG_ORDERS", name)
			}
		}
		if inner.longCalls != 1 {
			t.Errorf("longCalls = %d, want 1", inner.longCalls)
		}
	})

	t.Run("it answers the reverse lookup from the same entry", func(t *testing.T) {
		inner := &countingCatalog{}
		cache := NewNameCache(inner)

		if _, err := cache.LongName(ctx, "APPLIB", "ORDERS"); err != nil {
			t.Fatal(err)
		}
		name, err := cache.SystemName(ctx, "APPLIB", "long_orders")
		if err != nil {
			t.Fatal(err)
		}
		if name != "ORDERS" {
			t.Errorf("SystemName() = %q, want ORDERS", name)
		}
		if inner.systemCalls != 0 {
			t.Errorf("systemCalls = %d, want 0", inner.systemCalls)
		}
	})

	t.Run("it does not cache failures", func(t *testing.T) {
		inner := &countingCatalog{fail: true}
		cache := NewNameCache(inner)

		for range 2 {
			if _, err := cache.LongName(ctx, "APPLIB", "ORDERS"); !errors.Is(err, ErrTableNotFound) {
				t.Fatalf("LongName() error = %v, want ErrTableNotFound", err)
			}
		}
		if inner.longCalls != 2 {
			t.Errorf("longCalls = %d, want 2", inner.longCalls)
		}
	})

	t.Run("it forgets renamed tables", func(t *testing.T) {
		inner := &countingCatalog{}
		cache := NewNameCache(inner)

		if _, err := cache.LongName(ctx, "APPLIB", "ORDERS"); err != nil {
			t.Fatal(err)
		}
		cache.Forget("APPLIB", "ORDERS")
		if _, err := cache.LongName(ctx, "APPLIB", "ORDERS"); err != nil {
			t.Fatal(err)
		}
		if inner.longCalls != 2 {
			t.Errorf("longCalls = %d, want 2", inner.longCalls)
		}
	})

	t.Run("it memoizes character widths", func(t *testing.T) {
		inner := &countingCatalog{}
		cache := NewNameCache(inner)

		for range 2 {
			w, err := cache.BytesPerChar(ctx, 1200)
			if err != nil {
				t.Fatal(err)
			}
			if w != 2 {
				t.Fatalf("BytesPerChar() = %d, want 2", w)
			}
		}
		if inner.charsetCalls != 1 {
			t.Errorf("charsetCalls = %d, want 1", inner.charsetCalls)
		}
	})
}

func TestKnownBytesPerChar(t *testing.T) {
	tests := []struct {
		ccsid int
		want  int
	}{
		{37, 1},
		{1208, 1},
		{1200, 2},
		{13488, 2},
		{65535, 1},
	}

	for _, tt := range tests {
		if got := KnownBytesPerChar(tt.ccsid); got != tt.want {
			t.Errorf("KnownBytesPerChar(%d) = %d, want %d", tt.ccsid, got, tt.want)
		}
	}
}
