package dice

import "testing"

func TestRollerIsDeterministic(t *testing.T) {
	a := New(42)
	b := New(42)
	for i := 0; i < 50; i++ {
		x, err := a.Roll(8)
		if err != nil {
			t.Fatalf("roll: %v", err)
		}
		y, _ := b.Roll(8)
		if x != y {
			t.Fatalf("roll %d differs: %d vs %d", i, x, y)
		}
		if x < 1 || x > 8 {
			t.Fatalf("roll out of range: %d", x)
		}
	}
}

func TestD20Range(t *testing.T) {
	r := New(7)
	for i := 0; i < 200; i++ {
		v := r.D20()
		if v < 1 || v > 20 {
			t.Fatalf("d20 out of range: %d", v)
		}
	}
}

func TestRollRejectsInvalidSides(t *testing.T) {
	if _, err := New(1).Roll(0); err != ErrInvalidSides {
		t.Fatalf("expected ErrInvalidSides, got %v", err)
	}
}

func TestSeedForStable(t *testing.T) {
	if SeedFor("enc-1", 3, 2) != SeedFor("enc-1", 3, 2) {
		t.Fatalf("expected equal seeds")
	}
	if SeedFor("enc-1", 3, 2) == SeedFor("enc-1", 3, 3) {
		t.Fatalf("expected different seeds")
	}
}

func TestNewSeed(t *testing.T) {
	if _, err := NewSeed(); err != nil {
		t.Fatalf("new seed: %v", err)
	}
}
