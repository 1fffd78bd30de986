package logcat

import "testing"

func TestTagSum(t *testing.T) {
	tests := []struct {
		a, b string
		same bool
	}{
		{"Net", "Net", true},
		{"", "", true},
		{"Net", "net", false},
		{"ActivityManager", "ActivityManage", false},
	}
	for _, tt := range tests {
		sa := Payload{Tag: tt.a}.TagSum()
		sb := Payload{Tag: tt.b, Message: "other"}.TagSum()
		if (sa == sb) != tt.same {
			t.Errorf("TagSum(%q)=%x TagSum(%q)=%x, same=%v", tt.a, sa, tt.b, sb, tt.same)
		}
	}
}
