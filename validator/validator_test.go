package validator

import (
	"testing"
)

type sendRequest struct {
	Content   string `validate:"notblank,max=4000"`
	Type      string `validate:"omitempty,oneof=text image system"`
	MediaURL  string `validate:"omitempty,url"`
	ReplyToID string
}

func TestValidator_ValidateStruct(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		input   any
		wantErr bool
		fields  []string
	}{
		{
			name: "Valid struct",
			input: sendRequest{
				Content: "hello wolfpack",
				Type:    "text",
			},
			wantErr: false,
		},
		{
			name: "Blank content",
			input: sendRequest{
				Content: "   \t",
			},
			wantErr: true,
			fields:  []string{"Content"},
		},
		{
			name: "Unknown type and bad media url",
			input: sendRequest{
				Content:  "look",
				Type:     "video",
				MediaURL: "not a url",
			},
			wantErr: true,
			fields:  []string{"Type", "MediaURL"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errors := v.ValidateStruct(tt.input)

			if tt.wantErr && len(errors) == 0 {
				t.Error("ValidateStruct() expected errors but got none")
				return
			}

			if !tt.wantErr && len(errors) > 0 {
				t.Errorf("ValidateStruct() got unexpected errors: %v", errors)
				return
			}

			found := make(map[string]bool)
			for _, err := range errors {
				found[err.Field] = true
			}
			for _, f := range tt.fields {
				if !found[f] {
					t.Errorf("Expected validation error for field %s, but got none", f)
				}
			}
		})
	}
}

func TestValidator_Validate(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		value   any
		tag     string
		wantErr bool
	}{
		{name: "Required present", value: "user-1", tag: "required"},
		{name: "Required empty", value: "", tag: "required", wantErr: true},
		{name: "Not blank", value: " hi ", tag: "notblank"},
		{name: "Blank", value: "  ", tag: "notblank", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errors := v.Validate(tt.value, tt.tag)

			if tt.wantErr && len(errors) == 0 {
				t.Error("Validate() expected errors but got none")
			}
			if !tt.wantErr && len(errors) > 0 {
				t.Errorf("Validate() got unexpected errors: %v", errors)
			}
		})
	}
}

func TestValidator_Check(t *testing.T) {
	v := New()
	if err := v.Check(sendRequest{Content: "ok"}); err != nil {
		t.Errorf("Check() = %v, want nil", err)
	}
	err := v.Check(sendRequest{Content: ""})
	if err == nil {
		t.Fatal("Check() = nil, want error")
	}
	if got, want := err.Error(), "Content: must not be blank"; got != want {
		t.Errorf("Check() = %q, want %q", got, want)
	}
}

func TestNew(t *testing.T) {
	v := New()
	if v == nil || v.cli == nil {
		t.Error("New() returned invalid validator")
	}
}
