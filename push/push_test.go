package push

import "testing"

func TestSubject(t *testing.T) {
	tests := []struct {
		prefix, recipient string
		want              string
	}{
		{"wolfpack.push", "9b2f", "wolfpack.push.9b2f"},
		{"wolfpack.push", "a.b", "wolfpack.push.a_b"},
		{"p", "x*y>z w", "p.x_y_z_w"},
	}
	for _, tt := range tests {
		if got := subject(tt.prefix, tt.recipient); got != tt.want {
			t.Errorf("subject(%q, %q) = %q, want %q", tt.prefix, tt.recipient, got, tt.want)
		}
	}
}

func TestNew_DefaultPrefix(t *testing.T) {
	if got := New(nil, "").prefix; got != DefaultSubjectPrefix {
		t.Errorf("prefix = %q, want %q", got, DefaultSubjectPrefix)
	}
}
