package ingest

import (
	"context"
	"testing"
	"time"
)

func TestMemoryDeduper(t *testing.T) {
	d := NewMemoryDeduper(time.Hour)
	ctx := context.Background()

	seen, err := d.Seen(ctx, "SM123")
	if err != nil || seen {
		t.Fatalf("first sighting: seen=%v err=%v", seen, err)
	}
	seen, _ = d.Seen(ctx, "SM123")
	if !seen {
		t.Fatal("second sighting must report seen")
	}
	seen, _ = d.Seen(ctx, "SM456")
	if seen {
		t.Fatal("different ID must not be seen")
	}
}

func TestMemoryDeduperExpiry(t *testing.T) {
	d := NewMemoryDeduper(time.Minute)
	base := time.Now()
	d.now = func() time.Time { return base }
	ctx := context.Background()

	d.Seen(ctx, "SM123")
	d.now = func() time.Time { return base.Add(2 * time.Minute) }
	seen, _ := d.Seen(ctx, "SM123")
	if seen {
		t.Fatal("expired entry must be forgotten")
	}
}
