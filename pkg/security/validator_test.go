package security

import (
	"testing"
)

func TestValidatePath_PathTraversal(t *testing.T) {
	v := NewValidator(1024, 1024)

	tests := []struct {
		path      string
		shouldErr bool
	}{
		{"initialize/device.json", false},
		{"envelope.json", false},
		{"dir/../file.json", false},
		{"..", true},
		{"../etc/passwd", true},
		{"/etc/passwd", true},
		{"dir/../../etc/passwd", true},
		{"", true},
		{"   ", true},
		{".", true},
		{"..hidden.json", false},
	}

	for _, tt := range tests {
		err := v.ValidatePath(tt.path)
		if tt.shouldErr && err == nil {
			t.Errorf("expected error for path: %q", tt.path)
		}
		if !tt.shouldErr && err != nil {
			t.Errorf("unexpected error for path %q: %v", tt.path, err)
		}
	}
}

func TestValidateFileSize(t *testing.T) {
	v := NewValidator(100, 1000)

	if err := v.ValidateFileSize(50); err != nil {
		t.Errorf("expected no error for size 50, got: %v", err)
	}

	if err := v.ValidateFileSize(150); err == nil {
		t.Error("expected error for size 150 exceeding limit 100")
	}
}

func TestValidateFileSize_Unlimited(t *testing.T) {
	v := NewValidator(0, 0)

	if err := v.ValidateFileSize(1 << 40); err != nil {
		t.Errorf("expected no limit, got: %v", err)
	}
	if err := v.AddArtifactSize(1 << 40); err != nil {
		t.Errorf("expected no limit, got: %v", err)
	}
}

func TestAddArtifactSize_ExceedsTotal(t *testing.T) {
	v := NewValidator(1024, 500)

	if err := v.AddArtifactSize(400); err != nil {
		t.Errorf("expected no error for first 400 bytes, got: %v", err)
	}

	if err := v.AddArtifactSize(200); err == nil {
		t.Error("expected error when total exceeds 500")
	}

	if got := v.CurrentTotalSize(); got != 400 {
		t.Errorf("rejected size must not be counted, total = %d", got)
	}

	if err := v.AddArtifactSize(100); err != nil {
		t.Errorf("expected room for 100 more bytes, got: %v", err)
	}
}

func TestAddArtifactSize_RejectsLargeFile(t *testing.T) {
	v := NewValidator(10, 500)

	if err := v.AddArtifactSize(11); err == nil {
		t.Error("expected per-file limit to apply")
	}
	if got := v.CurrentTotalSize(); got != 0 {
		t.Errorf("expected nothing counted, got %d", got)
	}
}
