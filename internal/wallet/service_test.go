package wallet

import "testing"

func TestValidateMoneyReq(t *testing.T) {
	if err := validateMoneyReq("u1", 1, "k"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := validateMoneyReq("", 1, "k"); err == nil {
		t.Fatalf("expected error")
	}
	if err := validateMoneyReq("u1", 0, "k"); err == nil {
		t.Fatalf("expected error")
	}
	if err := validateMoneyReq("u1", 1, ""); err == nil {
		t.Fatalf("expected error")
	}
}
