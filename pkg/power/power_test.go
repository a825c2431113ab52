package power

import "testing"

func TestNoopSupplyAlwaysSucceeds(t *testing.T) {
	var s NoopSupply
	on, err := s.SetOutput(true, "bench-1")
	if err != nil || !on {
		t.Fatalf("SetOutput(true) = (%v, %v), want (true, nil)", on, err)
	}
	on, err = s.SetOutput(false, "bench-1")
	if err != nil || !on {
		t.Fatalf("SetOutput(false) = (%v, %v), want (true, nil): NoopSupply always reports success", on, err)
	}
}

func TestLoggingSupplyAlwaysSucceeds(t *testing.T) {
	s := NewLoggingSupply(nil)
	on, err := s.SetOutput(true, "bench-1")
	if err != nil || !on {
		t.Fatalf("SetOutput(true) = (%v, %v), want (true, nil)", on, err)
	}
}
