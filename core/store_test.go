package core

import "testing"

func TestStore_Notifications(t *testing.T) {
	st := NewStore()
	changes := 0
	st.OnChange = func() { changes++ }

	st.SetNotifications([]Notification{
		{ID: "1", Read: true},
		{ID: "2"},
		{ID: "3"},
	})
	if got := st.UnreadNotifications(); got != 2 {
		t.Errorf("UnreadNotifications() = %d, want 2", got)
	}
	if changes != 1 {
		t.Errorf("OnChange calls = %d, want 1", changes)
	}

	ns := st.Notifications()
	ns[0].ID = "changed"
	if st.Notifications()[0].ID != "1" {
		t.Error("Notifications() returned the store's backing slice")
	}
}

func TestStore_Error(t *testing.T) {
	st := NewStore()
	st.SetError("Failed to load messages")
	if got := st.Err(); got != "Failed to load messages" {
		t.Errorf("Err() = %q", got)
	}
	st.SetError("")
	if got := st.Err(); got != "" {
		t.Errorf("Err() after clear = %q", got)
	}
}

func TestPreview(t *testing.T) {
	long := make([]rune, 150)
	for i := range long {
		long[i] = 'a'
	}
	tests := []struct {
		name string
		msg  Message
		want int
	}{
		{"short text", Message{Type: MessageText, Content: "hi"}, 2},
		{"long text", Message{Type: MessageText, Content: string(long)}, previewLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len([]rune(preview(tt.msg))); got != tt.want {
				t.Errorf("len(preview()) = %d, want %d", got, tt.want)
			}
		})
	}
	if got := preview(Message{Type: MessageImage, MediaURL: "/media/a.png"}); got != "Sent a photo" {
		t.Errorf("preview(image) = %q", got)
	}
	if got := preview(Message{Type: MessageText, MediaURL: "/media/a.mp4"}); got != "Sent an attachment" {
		t.Errorf("preview(attachment) = %q", got)
	}
}
