package match

import "testing"

func TestStatusIsMatch(t *testing.T) {
	tests := []struct {
		status  Status
		isMatch bool
		perfect bool
	}{
		{StatusPerfect, true, true},
		{StatusPartial, true, false},
		{StatusNone, false, false},
		{StatusExtraFileInputBug, false, false},
	}

	for _, tt := range tests {
		if got := tt.status.IsMatch(); got != tt.isMatch {
			t.Errorf("Status(%q).IsMatch() = %v, want %v", tt.status, got, tt.isMatch)
		}
		if got := tt.status.IsPerfect(); got != tt.perfect {
			t.Errorf("Status(%q).IsPerfect() = %v, want %v", tt.status, got, tt.perfect)
		}
	}
}

func TestMatchHasMatch(t *testing.T) {
	m := &Match{RuntimeMatch: StatusNone, CreationMatch: StatusNone}
	if m.HasMatch() {
		t.Error("HasMatch() = true for unmatched verdict")
	}

	m.CreationMatch = StatusPartial
	if !m.HasMatch() {
		t.Error("HasMatch() = false with partial creation match")
	}
	if m.IsPerfect() {
		t.Error("IsPerfect() = true with only a partial match")
	}

	m.RuntimeMatch = StatusPerfect
	if !m.IsPerfect() {
		t.Error("IsPerfect() = false with perfect runtime match")
	}
}

func TestFullyQualifiedName(t *testing.T) {
	c := &CompiledContract{Name: "Token", CompiledPath: "contracts/Token.sol"}
	if got := c.FullyQualifiedName(); got != "contracts/Token.sol:Token" {
		t.Errorf("FullyQualifiedName() = %q", got)
	}
}
